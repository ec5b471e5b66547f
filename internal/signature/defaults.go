package signature

import "github.com/shopspring/decimal"

func rate(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// Defaults returns the built-in catalog of commercial AI crawlers and common
// scrapers. Rates are per-visit reference values in currency units; a zero
// rate marks a verified crawler as explicitly free.
func Defaults() []Signature {
	sigs := []Signature{
		{
			Name:     "GPTBot",
			Company:  "OpenAI",
			Patterns: []string{"gptbot", "chatgpt-user", "oai-searchbot"},
			Networks: []string{"20.15.240.0/20", "20.171.206.0/23", "52.230.152.0/21"},
			Rate:     rate("0.002"),
			Priority: PriorityHigh,
			Type:     TypePremium,
		},
		{
			Name:     "ClaudeBot",
			Company:  "Anthropic",
			Patterns: []string{"claudebot", "claude-web", "anthropic-ai"},
			Rate:     rate("0.002"),
			Priority: PriorityHigh,
			Type:     TypePremium,
		},
		{
			Name:     "PerplexityBot",
			Company:  "Perplexity",
			Patterns: []string{"perplexitybot"},
			Rate:     rate("0.0015"),
			Priority: PriorityHigh,
			Type:     TypePremium,
		},
		{
			Name:     "Google-Extended",
			Company:  "Google",
			Patterns: []string{"google-extended"},
			Rate:     rate("0.0015"),
			Priority: PriorityMedium,
			Type:     TypeStandard,
		},
		{
			Name:     "Applebot-Extended",
			Company:  "Apple",
			Patterns: []string{"applebot-extended"},
			Rate:     rate("0.0015"),
			Priority: PriorityMedium,
			Type:     TypeStandard,
		},
		{
			Name:     "Bytespider",
			Company:  "ByteDance",
			Patterns: []string{"bytespider"},
			Rate:     rate("0.001"),
			Priority: PriorityHigh,
			Type:     TypeStandard,
		},
		{
			Name:     "CCBot",
			Company:  "Common Crawl",
			Patterns: []string{"ccbot"},
			Rate:     rate("0.0005"),
			Priority: PriorityMedium,
			Type:     TypeStandard,
		},
		{
			Name:     "Meta-ExternalAgent",
			Company:  "Meta",
			Patterns: []string{"meta-externalagent", "meta-externalfetcher", "facebookbot"},
			Rate:     rate("0.001"),
			Priority: PriorityMedium,
			Type:     TypeStandard,
		},
		{
			Name:     "Amazonbot",
			Company:  "Amazon",
			Patterns: []string{"amazonbot"},
			Rate:     rate("0.001"),
			Priority: PriorityMedium,
			Type:     TypeStandard,
		},
		{
			Name:     "cohere-ai",
			Company:  "Cohere",
			Patterns: []string{"cohere-ai"},
			Rate:     rate("0.001"),
			Priority: PriorityMedium,
			Type:     TypeStandard,
		},
		{
			Name:     "Diffbot",
			Company:  "Diffbot",
			Patterns: []string{"diffbot"},
			Rate:     rate("0.0008"),
			Priority: PriorityMedium,
			Type:     TypeStandard,
		},
		{
			Name:     "Googlebot",
			Company:  "Google",
			Patterns: []string{"googlebot"},
			Rate:     rate("0"),
			Priority: PriorityLow,
			Type:     TypeVerified,
		},
		{
			Name:     "Bingbot",
			Company:  "Microsoft",
			Patterns: []string{"bingbot"},
			Rate:     rate("0"),
			Priority: PriorityLow,
			Type:     TypeVerified,
		},
		{
			Name:     "Scrapy",
			Company:  "unknown",
			Patterns: []string{"scrapy"},
			Rate:     rate("0.0002"),
			Priority: PriorityLow,
			Type:     TypeSuspicious,
		},
	}
	for i := range sigs {
		sigs[i].HasRate = true
	}
	return sigs
}

// GenericKeywords is the fallback list of well-known automation markers
// checked when no catalog signature matches.
func GenericKeywords() []string {
	return []string{
		"bot", "crawler", "spider", "scrape",
		"curl", "wget", "python", "go-http-client",
		"headless", "phantomjs", "selenium", "playwright", "puppeteer",
		"httpclient", "okhttp", "java/", "libwww",
	}
}

// Unknown is the synthetic identity used when only generic evidence exists.
func Unknown() Signature {
	return Signature{
		Name:     "unknown-bot",
		Company:  "unknown",
		Rate:     decimal.Zero,
		Priority: PriorityLow,
		Type:     TypeGeneric,
	}
}

// Suspicious is the synthetic identity for clients that hide who they are,
// such as an empty user-agent.
func Suspicious() Signature {
	return Signature{
		Name:     "suspicious-client",
		Company:  "unknown",
		Rate:     decimal.Zero,
		Priority: PriorityMedium,
		Type:     TypeSuspicious,
	}
}
