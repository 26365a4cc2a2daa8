package crawling

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// BotWall is the outcome of a heuristic check for CAPTCHA or bot-detection interstitials.
// A negative result does not guarantee the page rendered completely.
type BotWall struct {
	Detected bool
	Signals  []string
}

var botWallSelectors = []string{
	".g-recaptcha",
	".h-captcha",
	".cf-turnstile",
	"[data-sitekey]",
	"#challenge-form",
	"#cf-challenge-running",
	".cf-browser-verification",
	"#px-captcha",
}

var botWallFrameSources = []string{
	"recaptcha",
	"hcaptcha.com",
	"challenges.cloudflare.com",
	"captcha-delivery.com",
	"arkoselabs.com",
}

var botWallPhrases = []string{
	"verify you are human",
	"are you a robot",
	"checking your browser",
	"unusual traffic from your computer",
	"complete the security check",
	"enable javascript and cookies to continue",
	"press & hold",
	"attention required!",
}

// DetectBotWall looks for marker elements, challenge iframes and page-text phrases.
func DetectBotWall(htmlContent string) BotWall {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return BotWall{}
	}

	var signals []string
	for _, sel := range botWallSelectors {
		if doc.Find(sel).Length() > 0 {
			signals = append(signals, "selector:"+sel)
		}
	}

	doc.Find("iframe[src]").Each(func(_ int, s *goquery.Selection) {
		src := strings.ToLower(s.AttrOr("src", ""))
		for _, marker := range botWallFrameSources {
			if strings.Contains(src, marker) {
				signals = append(signals, "iframe:"+marker)
				return
			}
		}
	})

	text := strings.ToLower(strings.Join(strings.Fields(doc.Find("title").Text()+" "+doc.Find("body").Text()), " "))
	for _, phrase := range botWallPhrases {
		if strings.Contains(text, phrase) {
			signals = append(signals, "text:"+phrase)
		}
	}

	return BotWall{Detected: len(signals) > 0, Signals: signals}
}
