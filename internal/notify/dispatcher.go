package notify

import (
	"context"
	"fmt"

	"github.com/park-brian/nd2-converter/internal/domain/port"
)

const (
	userSuccessTemplate  = "user-success-email.html"
	userFailureTemplate  = "user-failure-email.html"
	adminFailureTemplate = "admin-failure-email.html"
)

// EmailDispatcher renders notification templates and hands the result to the
// mail transport.
type EmailDispatcher struct {
	mailer     port.Mailer
	adminEmail string
}

func NewEmailDispatcher(mailer port.Mailer, adminEmail string) *EmailDispatcher {
	return &EmailDispatcher{mailer: mailer, adminEmail: adminEmail}
}

func (d *EmailDispatcher) UserSuccess(ctx context.Context, to string, vars map[string]string) error {
	body, err := Render(userSuccessTemplate, vars)
	if err != nil {
		return err
	}
	return d.mailer.Send(ctx, to, "Conversion Results", body)
}

func (d *EmailDispatcher) UserFailure(ctx context.Context, to string, vars map[string]string) error {
	body, err := Render(userFailureTemplate, vars)
	if err != nil {
		return err
	}
	return d.mailer.Send(ctx, to, "Conversion Error", body)
}

// AdminFailure carries the job id in the subject so operator mailboxes stay
// searchable by id.
func (d *EmailDispatcher) AdminFailure(ctx context.Context, jobID string, vars map[string]string) error {
	body, err := Render(adminFailureTemplate, vars)
	if err != nil {
		return err
	}
	return d.mailer.Send(ctx, d.adminEmail, fmt.Sprintf("Conversion Error: %s", jobID), body)
}
