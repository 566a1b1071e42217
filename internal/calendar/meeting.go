package calendar

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/structflow/structflow/internal/completion"
	"github.com/structflow/structflow/internal/conversation"
)

const meetingPrompt = "Extract meeting details from the text: when the meeting is, where it takes place and who attends."

// Meeting is a meeting mentioned in free text.
type Meeting struct {
	Date         time.Time
	Place        string
	Participants []string
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("date %q is not ISO 8601", s)
}

// ParseMeeting makes a single structured call. A date the model did not
// write in ISO 8601 is reported as a malformed response.
func ParseMeeting(ctx context.Context, client *completion.Client, text string) (*Meeting, error) {
	res, err := client.Complete(ctx, conversation.FromPrompt(meetingPrompt, text), MeetingDetails, 1.0)
	if err != nil {
		return nil, err
	}
	date, err := parseDate(res.String("date"))
	if err != nil {
		return nil, &completion.MalformedResponseError{Raw: res.Text(), Cause: err}
	}
	return &Meeting{
		Date:         date,
		Place:        res.String("place"),
		Participants: res.Strings("participants"),
	}, nil
}
