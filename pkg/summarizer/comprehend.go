package summarizer

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/comprehend"
	"github.com/aws/aws-sdk-go-v2/service/comprehend/types"
)

// SyntaxAPI is the Comprehend operation ComprehendTagger needs.
type SyntaxAPI interface {
	DetectSyntax(ctx context.Context, params *comprehend.DetectSyntaxInput, optFns ...func(*comprehend.Options)) (*comprehend.DetectSyntaxOutput, error)
}

// ComprehendTagger tags text with Amazon Comprehend DetectSyntax.
type ComprehendTagger struct {
	client   SyntaxAPI
	language types.SyntaxLanguageCode
	timeout  time.Duration
}

// NewComprehendTagger creates a tagger. timeout bounds each DetectSyntax call;
// zero leaves only the caller's deadline.
func NewComprehendTagger(client SyntaxAPI, languageCode string, timeout time.Duration) *ComprehendTagger {
	return &ComprehendTagger{
		client:   client,
		language: types.SyntaxLanguageCode(languageCode),
		timeout:  timeout,
	}
}

// Tag returns the tokens in text order.
func (c *ComprehendTagger) Tag(ctx context.Context, text string) ([]Token, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	out, err := c.client.DetectSyntax(ctx, &comprehend.DetectSyntaxInput{
		Text:         aws.String(text),
		LanguageCode: c.language,
	})
	if err != nil {
		return nil, fmt.Errorf("detect syntax: %w", err)
	}

	tokens := make([]Token, 0, len(out.SyntaxTokens))
	for _, st := range out.SyntaxTokens {
		tok := Token{Text: aws.ToString(st.Text)}
		if st.PartOfSpeech != nil {
			tok.Category = Category(st.PartOfSpeech.Tag)
		}
		tokens = append(tokens, tok)
	}
	return tokens, nil
}
