package eventbridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/scheduler"
	"github.com/aws/aws-sdk-go-v2/service/scheduler/types"

	"github.com/alanyoungcy/btcguess/internal/domain"
)

type fakeAPI struct {
	in  *scheduler.CreateScheduleInput
	err error
}

func (f *fakeAPI) CreateSchedule(_ context.Context, in *scheduler.CreateScheduleInput, _ ...func(*scheduler.Options)) (*scheduler.CreateScheduleOutput, error) {
	f.in = in
	if f.err != nil {
		return nil, f.err
	}
	return &scheduler.CreateScheduleOutput{ScheduleArn: aws.String("arn:schedule")}, nil
}

func trigger() domain.OneShotTrigger {
	return domain.OneShotTrigger{
		Name:                  "settle-g-1",
		GroupName:             "settlements",
		FireAt:                time.Date(2026, 3, 14, 12, 1, 0, 0, time.UTC),
		Timezone:              "UTC",
		TargetID:              "arn:aws:lambda:us-east-1:123:function:settle",
		TargetAuth:            "arn:aws:iam::123:role/scheduler",
		PayloadJSON:           `{"guessId":"g-1"}`,
		AutoDeleteAfterFiring: true,
	}
}

func TestCreateOneShotInput(t *testing.T) {
	api := &fakeAPI{}
	if err := NewWithAPI(api).CreateOneShot(context.Background(), trigger()); err != nil {
		t.Fatalf("CreateOneShot: %v", err)
	}
	in := api.in
	if got := aws.ToString(in.ScheduleExpression); got != "at(2026-03-14T12:01:00)" {
		t.Errorf("expression = %s", got)
	}
	if aws.ToString(in.ScheduleExpressionTimezone) != "UTC" || aws.ToString(in.GroupName) != "settlements" {
		t.Errorf("timezone/group = %s/%s", aws.ToString(in.ScheduleExpressionTimezone), aws.ToString(in.GroupName))
	}
	if in.FlexibleTimeWindow.Mode != types.FlexibleTimeWindowModeOff {
		t.Errorf("flexible window = %s", in.FlexibleTimeWindow.Mode)
	}
	if in.ActionAfterCompletion != types.ActionAfterCompletionDelete {
		t.Errorf("action after completion = %s", in.ActionAfterCompletion)
	}
	if aws.ToInt32(in.Target.RetryPolicy.MaximumRetryAttempts) != 0 {
		t.Errorf("retries = %d", aws.ToInt32(in.Target.RetryPolicy.MaximumRetryAttempts))
	}
	if aws.ToString(in.Target.Input) != `{"guessId":"g-1"}` {
		t.Errorf("input = %s", aws.ToString(in.Target.Input))
	}
}

func TestCreateOneShotConflictIsAlreadyExists(t *testing.T) {
	api := &fakeAPI{err: &types.ConflictException{Message: aws.String("exists")}}
	err := NewWithAPI(api).CreateOneShot(context.Background(), trigger())
	if !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("err = %v, want ErrAlreadyExists", err)
	}
}

func TestCreateOneShotOtherErrors(t *testing.T) {
	boom := errors.New("throttled")
	err := NewWithAPI(&fakeAPI{err: boom}).CreateOneShot(context.Background(), trigger())
	if !errors.Is(err, boom) || errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("err = %v", err)
	}
}

func TestExpressionDropsSubSecond(t *testing.T) {
	got := Expression(time.Date(2026, 1, 2, 3, 4, 5, 999_000_000, time.UTC))
	if got != "at(2026-01-02T03:04:05)" {
		t.Fatalf("Expression = %s", got)
	}
}
