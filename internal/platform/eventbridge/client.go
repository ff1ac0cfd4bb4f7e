// Package eventbridge creates one-shot settlement triggers with Amazon
// EventBridge Scheduler.
package eventbridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/scheduler"
	"github.com/aws/aws-sdk-go-v2/service/scheduler/types"

	"github.com/alanyoungcy/btcguess/internal/domain"
)

// expressionLayout renders the at() expression. Scheduler rejects fractional
// seconds and zone suffixes; the zone is sent separately.
const expressionLayout = "2006-01-02T15:04:05"

// API is the subset of the Scheduler client this package calls.
type API interface {
	CreateSchedule(ctx context.Context, in *scheduler.CreateScheduleInput, opts ...func(*scheduler.Options)) (*scheduler.CreateScheduleOutput, error)
}

// ClientConfig selects the region and optional static credentials. With no
// keys the default AWS credential chain is used.
type ClientConfig struct {
	Region    string
	AccessKey string
	SecretKey string
	// Endpoint overrides the service endpoint, for local emulators.
	Endpoint string
}

// Client implements domain.TriggerService.
type Client struct {
	api API
}

// New loads AWS configuration and builds a Scheduler client.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Region == "" {
		return nil, fmt.Errorf("eventbridge: region is required")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("eventbridge: load aws config: %w", err)
	}

	var schedOpts []func(*scheduler.Options)
	if cfg.Endpoint != "" {
		schedOpts = append(schedOpts, func(o *scheduler.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}
	return NewWithAPI(scheduler.NewFromConfig(awsCfg, schedOpts...)), nil
}

// NewWithAPI wraps an existing Scheduler API implementation.
func NewWithAPI(api API) *Client {
	return &Client{api: api}
}

// CreateOneShot creates a schedule that fires once at t.FireAt, invokes the
// target with t.PayloadJSON without retries, and deletes itself afterwards.
func (c *Client) CreateOneShot(ctx context.Context, t domain.OneShotTrigger) error {
	tz := t.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return fmt.Errorf("eventbridge: timezone %q: %w", tz, err)
	}

	in := &scheduler.CreateScheduleInput{
		Name:                       aws.String(t.Name),
		ScheduleExpression:         aws.String(Expression(t.FireAt.In(loc))),
		ScheduleExpressionTimezone: aws.String(tz),
		FlexibleTimeWindow:         &types.FlexibleTimeWindow{Mode: types.FlexibleTimeWindowModeOff},
		Target: &types.Target{
			Arn:         aws.String(t.TargetID),
			RoleArn:     aws.String(t.TargetAuth),
			Input:       aws.String(t.PayloadJSON),
			RetryPolicy: &types.RetryPolicy{MaximumRetryAttempts: aws.Int32(0)},
		},
	}
	if t.GroupName != "" {
		in.GroupName = aws.String(t.GroupName)
	}
	if t.AutoDeleteAfterFiring {
		in.ActionAfterCompletion = types.ActionAfterCompletionDelete
	}

	if _, err := c.api.CreateSchedule(ctx, in); err != nil {
		var conflict *types.ConflictException
		if errors.As(err, &conflict) {
			return fmt.Errorf("eventbridge: schedule %s: %w", t.Name, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("eventbridge: create schedule %s: %w", t.Name, err)
	}
	return nil
}

// Expression renders a one-time at() schedule expression, dropping any
// sub-second part.
func Expression(t time.Time) string {
	return "at(" + t.Truncate(time.Second).Format(expressionLayout) + ")"
}

var _ domain.TriggerService = (*Client)(nil)
