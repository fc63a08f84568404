package nerclient

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/smithy-go"
)

// bedrockInvoker is the subset of *bedrockruntime.Client used here.
type bedrockInvoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// BedrockCaller invokes a NER model hosted on AWS Bedrock. The request
// body is the same JSON object sent to plain http endpoints.
type BedrockCaller struct {
	client bedrockInvoker
	model  string
}

// NewBedrock returns a caller for model in region. staticCreds, when set,
// is "ACCESS_KEY_ID:SECRET_ACCESS_KEY"; otherwise the default AWS
// credential chain is used.
func NewBedrock(ctx context.Context, region, model, staticCreds string) (*BedrockCaller, error) {
	if model == "" {
		return nil, errors.New("bedrock endpoint requires a model")
	}
	if region == "" {
		region = "us-east-1"
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(region)}
	if staticCreds != "" {
		id, secret, ok := cutCredentials(staticCreds)
		if !ok {
			return nil, errors.New("bedrock credentials must be ACCESS_KEY_ID:SECRET_ACCESS_KEY")
		}
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(id, secret, ""),
		))
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return &BedrockCaller{client: bedrockruntime.NewFromConfig(cfg), model: model}, nil
}

// Call implements Caller.
func (c *BedrockCaller) Call(ctx context.Context, text string, extra map[string]string) (map[string]string, error) {
	body, err := requestBody(text, extra)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	output, err := c.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.model),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, c.classify(err)
	}

	entities, err := decodeEntities(output.Body)
	if err != nil {
		return nil, &ProtocolError{Endpoint: c.endpoint(), Err: err}
	}
	return entities, nil
}

func (c *BedrockCaller) endpoint() string { return "bedrock:" + c.model }

// httpStatusError is implemented by the SDK's response errors.
type httpStatusError interface {
	error
	HTTPStatusCode() int
}

func (c *BedrockCaller) classify(err error) error {
	var respErr httpStatusError
	if errors.As(err, &respErr) {
		msg := respErr.Error()
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			msg = apiErr.ErrorMessage()
		}
		return &StatusError{Endpoint: c.endpoint(), Code: respErr.HTTPStatusCode(), Message: msg}
	}
	return &UnreachableError{Endpoint: c.endpoint(), Err: err}
}

func cutCredentials(s string) (id, secret string, ok bool) {
	id, secret, _ = strings.Cut(s, ":")
	return id, secret, id != "" && secret != ""
}
