package mailer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/oksasatya/pix-license-api/pkg/apperror"
	mailtpl "github.com/oksasatya/pix-license-api/pkg/mailer/templates"
)

// Dispatcher renders queued jobs and hands them to a Sender.
type Dispatcher struct {
	sender Sender
	log    *logrus.Logger
}

func NewDispatcher(sender Sender, log *logrus.Logger) *Dispatcher {
	return &Dispatcher{sender: sender, log: log}
}

// Handle processes one raw queue body. Undecodable or unrenderable jobs
// return a validation error; send failures are returned as external errors.
func (d *Dispatcher) Handle(ctx context.Context, body []byte) error {
	var job EmailJob
	if err := json.Unmarshal(body, &job); err != nil {
		return apperror.Validation("bad email job: " + err.Error())
	}
	if err := job.Validate(); err != nil {
		return apperror.Validation(err.Error())
	}
	if job.Data == nil {
		job.Data = map[string]any{}
	}
	if v, ok := job.Data["Email"]; !ok || fmt.Sprintf("%v", v) == "" {
		job.Data["Email"] = job.To
	}

	subject, text, html := job.Subject, job.Text, job.HTML
	if job.Template != "" {
		s, t, h, err := mailtpl.Render(job.Template, job.Data)
		if err != nil {
			return apperror.Validation(fmt.Sprintf("render %s: %v", job.Template, err))
		}
		subject, text, html = s, t, h
	}

	if err := d.sender.Send(ctx, job.To, subject, text, html); err != nil {
		return apperror.External("mail send failed", 0, err)
	}
	d.log.WithFields(logrus.Fields{"to": job.To, "template": job.Template}).Info("email sent")
	return nil
}
