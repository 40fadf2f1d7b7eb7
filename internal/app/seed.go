package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jmehdipour/drip/internal/model"
	"go.uber.org/zap"
)

// SeedDemo installs the demo funnels and a handful of contacts. It is safe
// to run repeatedly: funnels are matched by name and contacts are deduplicated.
func (a *App) SeedDemo(ctx context.Context) error {
	existing, err := a.Service.ListFunnels(ctx)
	if err != nil {
		return fmt.Errorf("list funnels: %w", err)
	}
	byName := make(map[string]model.Funnel, len(existing))
	for _, f := range existing {
		byName[f.Name] = f
	}

	buyers, err := a.seedFunnel(ctx, byName, "Masterclass buyers", model.EventTrigger("course.purchased"), nil, []demoStep{
		{"Your masterclass access, {{name}}", "<p>Hi {{name}},</p><p>Your seat is confirmed. <a href=\"{{cta_url}}\">{{cta_text}}</a></p>", 0, 0, "https://academy.example/masterclass", "Start lesson one"},
		{"How was lesson one?", "<p>{name}, here are the worksheets for lesson one.</p>", 3, 0, "", ""},
	})
	if err != nil {
		return err
	}

	if _, err := a.seedFunnel(ctx, byName, "Welcome", model.TriggerManual, &buyers.ID, []demoStep{
		{"Hi", "<p>Hello {{name}}, welcome to the academy.</p>", 0, 0, "", ""},
		{"Tips", "<p>Three tips for your first property deal, {name}.</p><p><a href=\"{{cta_url}}\">{{cta_text}}</a></p>", 2, 0, "https://academy.example/blog/tips", "Read the tips"},
	}); err != nil {
		return err
	}

	now := time.Now().UTC()
	contacts := []struct {
		r       model.Recipient
		source  string
		optedIn bool
		age     time.Duration
	}{
		{model.Recipient{Email: "ada@example.com", Name: "Ada"}, "newsletter", true, 2 * 24 * time.Hour},
		{model.Recipient{Email: "grace@example.com", Name: "Grace"}, "webinar", true, 10 * 24 * time.Hour},
		{model.Recipient{Email: "linus@example.com"}, "newsletter", false, 60 * 24 * time.Hour},
	}
	for _, c := range contacts {
		if err := a.ContactLog.InsertContact(ctx, c.r, c.source, c.optedIn, now.Add(-c.age)); err != nil {
			return fmt.Errorf("seed contact %s: %w", c.r.Email, err)
		}
	}
	if err := a.ContactLog.InsertPurchase(ctx, model.Recipient{Email: "grace@example.com", Name: "Grace H."}, "masterclass", now.Add(-time.Hour)); err != nil {
		return fmt.Errorf("seed purchase: %w", err)
	}

	a.Log.Info("demo data seeded", zap.Int("contacts", len(contacts)))
	return nil
}

type demoStep struct {
	subject, body         string
	delayDays, delayHours int
	ctaURL, ctaLabel      string
}

func (a *App) seedFunnel(ctx context.Context, byName map[string]model.Funnel, name, trigger string, chain *string, steps []demoStep) (model.Funnel, error) {
	if f, ok := byName[name]; ok {
		return f, nil
	}
	f, err := a.Service.CreateFunnel(ctx, funnelInput(name, trigger, chain))
	if err != nil {
		return f, fmt.Errorf("seed funnel %s: %w", name, err)
	}
	for _, s := range steps {
		if _, err := a.Service.AddStep(ctx, f.ID, stepInput(s)); err != nil {
			return f, fmt.Errorf("seed step for %s: %w", name, err)
		}
	}
	return a.Service.SetActive(ctx, f.ID, true)
}
