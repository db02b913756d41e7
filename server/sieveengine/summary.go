package sieveengine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/migadu/sora-sieve/logger"
	"github.com/migadu/sora-sieve/sieve/ext/copyext"
	"github.com/migadu/sora-sieve/sieve/ext/fileinto"
	"github.com/migadu/sora-sieve/sieve/ext/imap4flags"
	"github.com/migadu/sora-sieve/sieve/ext/notify"
	"github.com/migadu/sora-sieve/sieve/ext/vacation"
	"github.com/migadu/sora-sieve/sieve/interp"
)

type Action string

const (
	ActionKeep     Action = "keep"
	ActionDiscard  Action = "discard"
	ActionFileInto Action = "fileinto"
	ActionRedirect Action = "redirect"
	ActionVacation Action = "vacation"
)

// VacationResponse is the auto-reply a vacation action asks for.
type VacationResponse struct {
	From      string   `json:"from,omitempty"`
	Subject   string   `json:"subject"`
	Body      string   `json:"body"`
	IsMime    bool     `json:"is_mime,omitempty"`
	Handle    string   `json:"handle"`
	Days      uint64   `json:"days"`
	Addresses []string `json:"addresses,omitempty"`
}

// Notification is a queued notify action.
type Notification struct {
	Method     string   `json:"method,omitempty"`
	ID         string   `json:"id,omitempty"`
	Options    []string `json:"options,omitempty"`
	Importance int      `json:"importance"`
	Message    string   `json:"message,omitempty"`
}

// Summary is what delivery does with a message after its script ran.
type Summary struct {
	Action     Action   `json:"action"`
	Mailbox    string   `json:"mailbox,omitempty"`     // fileinto target, or the keep mailbox
	Mailboxes  []string `json:"mailboxes,omitempty"`   // every fileinto target, in order
	RedirectTo string   `json:"redirect_to,omitempty"` // first redirect address
	Redirects  []string `json:"redirects,omitempty"`   // every redirect address, in order
	Flags      []string `json:"flags,omitempty"`
	// Copy is set when a copy also stays in the default mailbox, either
	// from :copy or from an explicit keep.
	Copy          bool              `json:"copy,omitempty"`
	Vacation      *VacationResponse `json:"vacation,omitempty"`
	Notifications []Notification    `json:"notifications,omitempty"`
	// Actions lists every queued action as the interpreter describes it.
	Actions []string `json:"actions"`
}

// Summarize applies the commit policy to the actions of a halted run:
// fileinto, then redirect, then discard, then vacation, then keep. implicit
// is the run's implicit keep, used when nothing cancels it.
func Summarize(actions []*interp.Action, implicit *interp.Action) Summary {
	s := Summary{Action: ActionKeep, Actions: make([]string, 0, len(actions))}

	var keeps, fileintos, redirects []*interp.Action
	var vacationAction *interp.Action
	var discarded, cancelled bool

	for _, a := range actions {
		s.Actions = append(s.Actions, a.String())
		switch a.Def {
		case interp.ActionKeep:
			keeps = append(keeps, a)
		case fileinto.ActionFileinto:
			fileintos = append(fileintos, a)
			cancelled = cancelled || !copyext.Has(a)
		case interp.ActionRedirect:
			redirects = append(redirects, a)
			cancelled = cancelled || !copyext.Has(a)
		case interp.ActionDiscard:
			discarded = true
			cancelled = true
		case vacation.ActionVacation:
			if vacationAction == nil {
				vacationAction = a
			}
		case notify.ActionNotify:
			if c, ok := a.Context.(*notify.Context); ok {
				s.Notifications = append(s.Notifications, Notification{
					Method:     c.Method,
					ID:         c.ID,
					Options:    c.Options,
					Importance: c.Importance,
					Message:    c.Message,
				})
			}
		}
	}

	keep := implicit
	if len(keeps) > 0 {
		keep = keeps[0]
	} else if cancelled {
		keep = nil
	}

	for _, a := range fileintos {
		if c, ok := a.Context.(*fileinto.Context); ok {
			s.Mailboxes = append(s.Mailboxes, c.Mailbox)
		}
	}
	for _, a := range redirects {
		if c, ok := a.Context.(*interp.RedirectContext); ok {
			s.Redirects = append(s.Redirects, c.Address)
		}
	}

	switch {
	case len(s.Mailboxes) > 0:
		s.Action = ActionFileInto
		s.Mailbox = s.Mailboxes[0]
		s.Flags = actionFlags(fileintos[0])
		s.Copy = keep != nil
	case len(s.Redirects) > 0:
		s.Action = ActionRedirect
		s.RedirectTo = s.Redirects[0]
		s.Copy = keep != nil
	case keep == nil && discarded:
		s.Action = ActionDiscard
	default:
		if keep == nil {
			keep = implicit
		}
		s.Action = ActionKeep
		if keep != nil {
			if c, ok := keep.Context.(*interp.KeepContext); ok {
				s.Mailbox = c.Mailbox
			}
			s.Flags = actionFlags(keep)
		}
		if vacationAction != nil {
			s.Action = ActionVacation
		}
	}
	if s.Action == ActionVacation {
		s.Vacation = vacationResponse(vacationAction)
	}
	return s
}

func actionFlags(a *interp.Action) []string {
	if a == nil {
		return nil
	}
	se, ok := a.SideEffect(imap4flags.SideEffectName)
	if !ok {
		return nil
	}
	flags, _ := se.Context.([]string)
	return flags
}

func vacationResponse(a *interp.Action) *VacationResponse {
	c, ok := a.Context.(*vacation.Context)
	if !ok {
		return nil
	}
	return &VacationResponse{
		From:      c.From,
		Subject:   c.Subject,
		Body:      c.Reason,
		IsMime:    c.Mime,
		Handle:    c.Handle,
		Days:      c.Days,
		Addresses: c.Addresses,
	}
}

// VacationOracle defines the methods a Policy needs to interact with
// persistent storage for vacation response tracking.
type VacationOracle interface {
	// IsVacationResponseAllowed checks if a vacation response is allowed to be sent
	// to the given originalSender for the specified user and handle,
	// considering the duration since the last response.
	IsVacationResponseAllowed(ctx context.Context, AccountID int64, originalSender string, handle string, duration time.Duration) (bool, error)
	// RecordVacationResponseSent records that a vacation response has been sent
	// to the originalSender for the specified user and handle.
	RecordVacationResponseSent(ctx context.Context, AccountID int64, originalSender string, handle string) error
}

// Policy decides whether a summarized vacation response is really sent.
// Without an oracle it only remembers responses in memory, which suits a
// single process or tests.
type Policy struct {
	AccountID int64
	Oracle    VacationOracle

	sent map[string]time.Time
}

// Apply turns a vacation summary into a plain keep when no response may be
// sent to sender, and records the response otherwise. Oracle failures keep
// the message and are returned, so delivery never depends on them.
func (p *Policy) Apply(ctx context.Context, s Summary, sender string) (Summary, error) {
	if s.Action != ActionVacation || s.Vacation == nil {
		return s, nil
	}
	suppress := func() Summary {
		s.Action = ActionKeep
		s.Vacation = nil
		return s
	}
	if !VacationSenderAllowed(sender) {
		logger.Debug("Vacation response suppressed", "component", "sieve", "sender", sender)
		return suppress(), nil
	}

	duration := time.Duration(s.Vacation.Days) * 24 * time.Hour
	handle := s.Vacation.Handle
	if p.Oracle != nil {
		allowed, err := p.Oracle.IsVacationResponseAllowed(ctx, p.AccountID, sender, handle, duration)
		if err != nil {
			return suppress(), fmt.Errorf("checking persistent vacation allowance via oracle: %w", err)
		}
		if !allowed {
			return suppress(), nil
		}
		if err := p.Oracle.RecordVacationResponseSent(ctx, p.AccountID, sender, handle); err != nil {
			return s, fmt.Errorf("failed to record vacation response sent via oracle: %w", err)
		}
		return s, nil
	}

	if p.sent == nil {
		p.sent = make(map[string]time.Time)
	}
	key := strings.ToLower(sender) + ":" + handle
	if last, ok := p.sent[key]; ok && time.Since(last) < duration {
		return suppress(), nil
	}
	p.sent[key] = time.Now()
	return s, nil
}

// VacationSenderAllowed reports whether an auto-reply may go to sender. Null
// senders and mailer daemons never get one.
func VacationSenderAllowed(sender string) bool {
	sender = strings.Trim(strings.TrimSpace(sender), "<>")
	if sender == "" {
		return false
	}
	local := sender
	if at := strings.LastIndexByte(sender, '@'); at >= 0 {
		local = sender[:at]
	}
	switch strings.ToLower(local) {
	case "mailer-daemon", "postmaster", "listserv", "majordomo":
		return false
	}
	return !strings.HasPrefix(strings.ToLower(local), "owner-") && !strings.HasSuffix(strings.ToLower(local), "-request")
}
