package clientnotify

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"readstate_backend/internal/services/push"
)

type State string

const (
	StateRendered        State = "rendered"
	StateDismissed       State = "dismissed"
	StateActivated       State = "activated"
	StateClosedViaAction State = "closed_via_action"
)

func (s State) Terminal() bool {
	return s != StateRendered
}

type InteractionKind string

const (
	InteractionDismiss InteractionKind = "dismiss" // закрыли без действия
	InteractionClick   InteractionKind = "click"   // клик по телу уведомления
	InteractionAction  InteractionKind = "action"  // кнопка open / close
)

type Interaction struct {
	Kind   InteractionKind `json:"kind" validate:"required,oneof=dismiss click action"`
	Action string          `json:"action,omitempty" validate:"omitempty,oneof=open close"`
}

type DecisionKind string

const (
	DecisionNone  DecisionKind = "none"
	DecisionFocus DecisionKind = "focus"
	DecisionOpen  DecisionKind = "open"
)

// View - открытая вкладка/окно клиента
type View struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type Decision struct {
	Kind   DecisionKind `json:"kind"`
	ViewID string       `json:"viewId,omitempty"`
	URL    string       `json:"url,omitempty"`
}

var (
	ErrTerminal           = errors.New("notification already reached a terminal state")
	ErrUnknownAction      = errors.New("unknown notification action")
	ErrUnknownInteraction = errors.New("unknown interaction kind")
)

// Delivered - одно доставленное уведомление и его состояние
type Delivered struct {
	mu      sync.Mutex
	options Options
	state   State
}

func NewDelivered(opts Options) *Delivered {
	return &Delivered{options: opts, state: StateRendered}
}

func (d *Delivered) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Delivered) Options() Options {
	return d.options
}

// Handle переводит уведомление в терминальное состояние и, при активации,
// решает, какое окно открыть. views - в порядке перечисления платформой.
func (d *Delivered) Handle(in Interaction, views []View) (Decision, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state.Terminal() {
		return Decision{}, fmt.Errorf("%w: %s", ErrTerminal, d.state)
	}

	next, activate, err := transition(in)
	if err != nil {
		return Decision{}, err
	}
	d.state = next

	if !activate {
		return Decision{Kind: DecisionNone}, nil
	}
	return Route(ResolveURL(d.options.Data), views), nil
}

func transition(in Interaction) (State, bool, error) {
	switch in.Kind {
	case InteractionDismiss:
		return StateDismissed, false, nil
	case InteractionClick:
		return StateActivated, true, nil
	case InteractionAction:
		switch in.Action {
		case push.ActionOpen:
			return StateActivated, true, nil
		case push.ActionClose:
			return StateClosedViaAction, false, nil
		}
		return "", false, fmt.Errorf("%w: %q", ErrUnknownAction, in.Action)
	}
	return "", false, fmt.Errorf("%w: %q", ErrUnknownInteraction, in.Kind)
}

// Route: первое по порядку окно, чей адрес содержит target, получает фокус,
// иначе открывается новое окно на target.
func Route(target string, views []View) Decision {
	for _, v := range views {
		if strings.Contains(v.URL, target) {
			return Decision{Kind: DecisionFocus, ViewID: v.ID, URL: v.URL}
		}
	}
	return Decision{Kind: DecisionOpen, URL: target}
}
