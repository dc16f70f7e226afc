package interactive

import (
	hmterrors "github.com/helpmetest/cli/pkg/errors"
)

// ErrAcknowledgementRequired is matched by code; use errors.Is.
var ErrAcknowledgementRequired = hmterrors.New(hmterrors.ErrCodeAckRequired, "acknowledgement required")

func newAcknowledgementRequired(token string) error {
	err := hmterrors.New(hmterrors.ErrCodeAckRequired, "acknowledgement required before the next interactive command").
		WithUserMessage("The previous command finished but its result was not reported to the user yet.").
		WithRemediation(
			"Pass `message` and/or `tasks` together with this run_interactive_command call.",
			"Or call send_to_ui with a message and/or tasks first, then retry this command.",
		)
	if token != "" {
		err = err.WithContext("session", token)
	}
	return err
}

func invalidInput(message string) error {
	return hmterrors.New(hmterrors.ErrCodeInvalidInput, message).WithUserMessage(message)
}
