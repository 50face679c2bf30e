package port

import "context"

// Mailer hands a rendered message to the external mail transport. Failures
// are reported to the caller and not retried here.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// Dispatcher renders and sends the three notification kinds the pipeline
// produces. The operator-facing failure mail always goes out; the user-facing
// mails only when the request carried a recipient address.
type Dispatcher interface {
	UserSuccess(ctx context.Context, to string, vars map[string]string) error
	UserFailure(ctx context.Context, to string, vars map[string]string) error
	AdminFailure(ctx context.Context, jobID string, vars map[string]string) error
}
