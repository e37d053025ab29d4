package notice

import (
	"ebook-lending/internal/domain/loan"
	"ebook-lending/internal/pkg/apperrors"
	"fmt"
)

const signOff = "\nKind regards,\nThe eBookStore."

type Content struct {
	Subject string
	Body    string
}

func Render(kind loan.NoticeKind, name, title string, durationDays int) (Content, error) {
	greeting := "Hi " + name + ", \n"
	switch kind {
	case loan.NoticeConfirmation:
		return Content{
			Subject: "Confirmation of your eBook loan",
			Body:    greeting + fmt.Sprintf("You have successfully loaned %s for %d days. We hope you enjoy the book!", title, durationDays) + signOff,
		}, nil
	case loan.NoticeCancellation:
		return Content{
			Subject: "Cancellation of your eBook loan",
			Body:    greeting + fmt.Sprintf("You have successfully cancelled your loan of %s with immediate effect. We hope you enjoyed the book!", title) + signOff,
		}, nil
	case loan.NoticeReminder:
		return Content{
			Subject: "Reminder of your eBook loan coming to an end soon",
			Body:    greeting + fmt.Sprintf("This is a reminder that your loan of %s is due to end in 24 hours. Hope you have enjoyed reading it!", title) + signOff,
		}, nil
	default:
		return Content{}, fmt.Errorf("%w: unknown notice kind %q", apperrors.ErrInvalidArgument, kind)
	}
}
