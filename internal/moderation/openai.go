package moderation

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyperengineering/librarian/internal/provider"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// DefaultModel is the OpenAI moderation model.
const DefaultModel = "omni-moderation-latest"

var _ Classifier = (*OpenAI)(nil)

// ModerationsService defines the interface for making moderation API calls.
type ModerationsService interface {
	New(ctx context.Context, params openai.ModerationNewParams, opts ...option.RequestOption) (*openai.ModerationNewResponse, error)
}

// OpenAI classifies text with the OpenAI moderation endpoint.
type OpenAI struct {
	moderations ModerationsService
	model       string
	policy      provider.Policy
}

// NewOpenAI creates a classifier on the shared OpenAI client.
func NewOpenAI(client *openai.Client, model string, policy provider.Policy) *OpenAI {
	return NewOpenAIWithService(client.Moderations, model, policy)
}

// NewOpenAIWithService creates a classifier over any ModerationsService.
func NewOpenAIWithService(svc ModerationsService, model string, policy provider.Policy) *OpenAI {
	if model == "" {
		model = DefaultModel
	}
	return &OpenAI{moderations: svc, model: model, policy: policy}
}

// Classify implements Classifier.
func (o *OpenAI) Classify(ctx context.Context, text string) (Verdict, error) {
	var resp *openai.ModerationNewResponse
	err := o.policy.Do(ctx, "moderation", func(ctx context.Context) error {
		var err error
		resp, err = o.moderations.New(ctx, openai.ModerationNewParams{
			Input: openai.F[openai.ModerationNewParamsInputUnion](shared.UnionString(text)),
			Model: openai.F(openai.ModerationModel(o.model)),
		})
		return err
	})
	if err != nil {
		return Verdict{}, fmt.Errorf("moderation failed: %w", err)
	}
	if resp == nil || len(resp.Results) == 0 {
		return Verdict{}, errors.New("moderation failed: no results returned")
	}

	out := resp.Results[0]
	return Verdict{
		Flagged:    out.Flagged,
		Categories: flaggedCategories(out.Categories),
	}, nil
}

// flaggedCategories lists the categories set in c using the API's names.
func flaggedCategories(c openai.ModerationCategories) []string {
	flags := []struct {
		name string
		set  bool
	}{
		{"harassment", c.Harassment},
		{"harassment/threatening", c.HarassmentThreatening},
		{"hate", c.Hate},
		{"hate/threatening", c.HateThreatening},
		{"illicit", c.Illicit},
		{"illicit/violent", c.IllicitViolent},
		{"self-harm", c.SelfHarm},
		{"self-harm/instructions", c.SelfHarmInstructions},
		{"self-harm/intent", c.SelfHarmIntent},
		{"sexual", c.Sexual},
		{"sexual/minors", c.SexualMinors},
		{"violence", c.Violence},
		{"violence/graphic", c.ViolenceGraphic},
	}

	cats := []string{}
	for _, f := range flags {
		if f.set {
			cats = append(cats, f.name)
		}
	}
	return cats
}
