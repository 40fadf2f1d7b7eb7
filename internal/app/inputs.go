package app

import "github.com/jmehdipour/drip/internal/funnel"

func funnelInput(name, trigger string, chain *string) funnel.FunnelInput {
	return funnel.FunnelInput{Name: &name, Trigger: &trigger, ChainFunnelID: chain}
}

func stepInput(s demoStep) funnel.StepInput {
	return funnel.StepInput{
		Subject:    &s.subject,
		Body:       &s.body,
		DelayDays:  &s.delayDays,
		DelayHours: &s.delayHours,
		CTAURL:     &s.ctaURL,
		CTALabel:   &s.ctaLabel,
	}
}
