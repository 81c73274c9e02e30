// fastview builds live server-side views: a data model is converted to a
// view-model, broadcast to one or more views, and each view emits element
// updates that are pushed to the page over a websocket.
package fastview

import (
	"html/template"
)

// EleUpdate is an element id and the operations to apply to it.
type EleUpdate struct {
	EleId string
	// Op keys are attribute names, or TEXT_CONTENT to set the element's text.
	Ops []Op
}

// Op sets an attribute (or the text content) to Value.
type Op struct {
	Key   string
	Value string
}

// TEXT_CONTENT is the reserved op key that sets ele.textContent.
const TEXT_CONTENT = "textContent"

// SetAttr returns an update of a single attribute.
func SetAttr(eleId, key, value string) EleUpdate {
	return EleUpdate{EleId: eleId, Ops: []Op{{Key: key, Value: value}}}
}

// SetText returns an update of an element's text.
func SetText(eleId, text string) EleUpdate {
	return SetAttr(eleId, TEXT_CONTENT, text)
}

// ViewComponent is a server side view.
type ViewComponent interface {
	// Updates returns the chan on which the view publishes element updates.
	Updates() <-chan []EleUpdate
	// Parse adds the view's template to parent and returns its name. Views
	// inherit the parent's func-map.
	Parse(parent *template.Template) (string, error)
}
