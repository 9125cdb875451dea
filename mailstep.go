package crowdsync

import (
	"context"
	"fmt"
	"time"
)

const (
	SendMailStepName = "Send Mail Step"
	ReportSubject    = "Cumulus Crowd Service Report"
	mailSentResult   = "Mail sent."
)

// SendMailStep mails the report covering the last mail interval
type SendMailStep struct {
	StepBase
	reporter     Reporter
	mailer       Mailer
	mailInterval time.Duration
}

// NewSendMailStep creates the step. A nil clock means the wall clock.
func NewSendMailStep(reporter Reporter, mailer Mailer, mailInterval time.Duration, clock Clock) *SendMailStep {
	if clock == nil {
		clock = SystemClock
	}
	return &SendMailStep{
		StepBase:     StepBase{StepName: SendMailStepName, Clock: clock},
		reporter:     reporter,
		mailer:       mailer,
		mailInterval: mailInterval,
	}
}

// Run fetches the report for [now - mail interval, now] and sends it. A
// reporter error aborts the run; a mailer error is recorded as the step's
// failure and the run continues.
func (s *SendMailStep) Run(ctx context.Context) error {
	now := s.Clock.Now()
	report, err := s.reporter.GetReport(ctx, now.Add(-s.mailInterval), now)
	if err != nil {
		err = fmt.Errorf("failed to create report: %w", err)
		s.Fail(err)
		return err
	}

	if err := s.mailer.SendReport(ctx, ReportSubject, report); err != nil {
		s.Fail(err)
		return nil
	}
	s.Succeed(mailSentResult)
	return nil
}
