package form

// EventType names the form-level events the coordinator subscribes to.
type EventType string

// Supported event types.
const (
	EventInput  EventType = "input"
	EventChange EventType = "change"
	EventClick  EventType = "click"
)

// Event is delivered to listeners after a control changes.
type Event struct {
	Type   EventType
	Target *Control
}

// Handler receives form events.
type Handler func(Event)

type listener struct {
	id int
	fn Handler
}

// Subscription identifies a registered listener so it can be removed.
type Subscription struct {
	eventType EventType
	id        int
}

// AddListener registers fn for events of type t.
func (f *Form) AddListener(t EventType, fn Handler) Subscription {
	f.nextID++
	f.listeners[t] = append(f.listeners[t], &listener{id: f.nextID, fn: fn})
	return Subscription{eventType: t, id: f.nextID}
}

// RemoveListener detaches a listener. Removing twice is a no-op.
func (f *Form) RemoveListener(sub Subscription) {
	list := f.listeners[sub.eventType]
	for i, l := range list {
		if l.id == sub.id {
			f.listeners[sub.eventType] = append(list[:i:i], list[i+1:]...)
			return
		}
	}
}

// ListenerCount returns how many listeners are attached for t.
func (f *Form) ListenerCount(t EventType) int {
	return len(f.listeners[t])
}

// Dispatch delivers an event to the listeners registered at dispatch time.
func (f *Form) Dispatch(evt Event) {
	list := append([]*listener(nil), f.listeners[evt.Type]...)
	for _, l := range list {
		l.fn(evt)
	}
}

// SetValue assigns a scalar value and fires input then change, as a user
// typing and leaving the field would.
func (f *Form) SetValue(c *Control, value string) {
	c.Value = value
	f.Dispatch(Event{Type: EventInput, Target: c})
	f.Dispatch(Event{Type: EventChange, Target: c})
}

// Click toggles a checkbox or selects a radio option, then fires click and
// change. Selecting a radio clears the other members of its group.
func (f *Form) Click(c *Control) {
	switch c.Type {
	case TypeCheckbox:
		c.Checked = !c.Checked
	case TypeRadio:
		for _, other := range f.Named(c.Name) {
			if other.Type == TypeRadio {
				other.Checked = false
			}
		}
		c.Checked = true
	}
	f.Dispatch(Event{Type: EventClick, Target: c})
	f.Dispatch(Event{Type: EventChange, Target: c})
}
