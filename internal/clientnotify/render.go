package clientnotify

import (
	"sync"

	"github.com/samber/lo"

	"readstate_backend/internal/services/push"
)

// Options - то, как уведомление показывается на устройстве
type Options struct {
	Title    string            `json:"title"`
	Body     string            `json:"body"`
	Tag      string            `json:"tag"`
	Renotify bool              `json:"renotify"`
	Actions  []push.Action     `json:"actions"`
	Data     map[string]string `json:"data,omitempty"`
}

// TagFor - ключ замены: id чата или общий ключ
func TagFor(data map[string]string) string {
	return lo.CoalesceOrEmpty(data["chatId"], push.DefaultTag)
}

// ResolveURL - куда вести по клику
func ResolveURL(data map[string]string) string {
	return lo.CoalesceOrEmpty(data["url"], push.DefaultLink)
}

// Render строит опции показа из доставленного payload
func Render(title, body string, data map[string]string) Options {
	return Options{
		Title:    title,
		Body:     body,
		Tag:      TagFor(data),
		Renotify: true,
		Actions: []push.Action{
			{Action: push.ActionOpen, Title: "Open"},
			{Action: push.ActionClose, Title: "Close"},
		},
		Data: lo.Assign(map[string]string{}, data),
	}
}

type ShowResult struct {
	Replaced bool
	// Alert - пользователь получил звук/вибрацию. С renotify всегда true,
	// даже если уведомление заменило предыдущее с тем же тегом.
	Alert bool
}

// Tray - уведомления, видимые на устройстве, не больше одного на тег
type Tray struct {
	mu      sync.Mutex
	byTag   map[string]Options
	ordered []string
}

func NewTray() *Tray {
	return &Tray{byTag: make(map[string]Options)}
}

func (t *Tray) Show(opts Options) ShowResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, replaced := t.byTag[opts.Tag]
	t.byTag[opts.Tag] = opts
	if !replaced {
		t.ordered = append(t.ordered, opts.Tag)
	}
	return ShowResult{Replaced: replaced, Alert: opts.Renotify || !replaced}
}

// Remove убирает уведомление после закрытия или клика
func (t *Tray) Remove(tag string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.byTag, tag)
	t.ordered = lo.Without(t.ordered, tag)
}

// Visible - уведомления в порядке первого показа
func (t *Tray) Visible() []Options {
	t.mu.Lock()
	defer t.mu.Unlock()

	return lo.Map(t.ordered, func(tag string, _ int) Options { return t.byTag[tag] })
}
