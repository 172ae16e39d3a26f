package meshengine

import (
	"bytes"
	"strings"

	"github.com/sudorandom/meshtel-viewer/pkg/jsontok"
)

// MaxEventSize bounds a single event or inner payload.
const MaxEventSize = 1 << 20

const (
	unknownPlaceholder = "unknown"
	previewLen         = 400
)

// hop is a node reference from an event: a numeric hash or a text token.
type hop struct {
	hash    int
	token   string
	numeric bool
	valid   bool
}

func readHop(doc *jsontok.Doc, i int) hop {
	switch doc.Kind(i) {
	case jsontok.Primitive:
		if h, ok := doc.Int(i); ok {
			return hop{hash: h, numeric: true, valid: true}
		}
	case jsontok.String:
		if s, ok := doc.String(i); ok {
			return hop{token: s, valid: true}
		}
	}
	return hop{}
}

type packetEvent struct {
	direction string
	sender    string
	origin    string
	src, dst  hop
}

type propagationEvent struct {
	hops    []hop
	entries int
}

// looksLikeObject reports whether data, after leading whitespace, opens an
// object.
func looksLikeObject(data []byte) bool {
	for _, c := range data {
		switch c {
		case ' ', '\n', '\r', '\t':
			continue
		}
		return c == '{'
	}
	return false
}

func parseObject(data []byte) (*jsontok.Doc, bool) {
	if len(data) > MaxEventSize || !looksLikeObject(data) {
		return nil, false
	}
	doc, err := jsontok.ParseDoc(data)
	if err != nil || doc.Kind(doc.Root()) != jsontok.Object {
		return nil, false
	}
	return doc, true
}

// HandleEvent applies one `data:` payload from the stream. Malformed input
// is dropped silently. Parsing happens before the state lock is taken.
func (e *Engine) HandleEvent(payload []byte) {
	doc, ok := parseObject(payload)
	if !ok {
		return
	}

	typ, _ := doc.StringField(0, "type")
	switch typ {
	case "statusUpdate", "connected":
		status, _ := doc.StringField(0, "connectionStatus")
		if status == "" {
			return
		}
		e.mu.Lock()
		e.status = status
		e.mu.Unlock()

	case "ping":
		e.touch()

	case "packet", "propagation":
		inner := innerPayload(doc)
		if len(inner) == 0 {
			return
		}
		if typ == "packet" {
			e.handlePacket(inner)
		} else {
			e.handlePropagation(inner)
		}
		e.touch()
	}
}

// innerPayload returns the event's `data` field: normally a JSON document
// encoded as a string, but an inline object is accepted too.
func innerPayload(doc *jsontok.Doc) []byte {
	i := doc.FindKey(0, "data")
	switch doc.Kind(i) {
	case jsontok.String:
		s, ok := jsontok.Unescape(doc.Raw(i))
		if !ok {
			return nil
		}
		return []byte(s)
	case jsontok.Object:
		return bytes.Clone(doc.Raw(i))
	}
	return nil
}

func (e *Engine) touch() {
	now := e.clock.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastUpdate = e.formatTime(now)
}

func parsePacket(data []byte) (packetEvent, bool) {
	doc, ok := parseObject(data)
	if !ok {
		return packetEvent{}, false
	}
	var ev packetEvent
	ev.direction, _ = doc.StringField(0, "direction")
	for _, key := range []string{"sender_name", "group_sender_name", "advert_name"} {
		if s, _ := doc.StringField(0, key); s != "" {
			ev.sender = s
			break
		}
	}
	ev.origin, _ = doc.StringField(0, "origin")
	ev.src = readHop(doc, doc.FindKey(0, "src_hash"))
	ev.dst = readHop(doc, doc.FindKey(0, "dst_hash"))
	return ev, true
}

func (ev packetEvent) text(prefix string) string {
	sender, origin := ev.sender, ev.origin
	if sender == "" {
		sender = unknownPlaceholder
	}
	if origin == "" {
		origin = unknownPlaceholder
	}
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteByte(' ')
	if ev.direction != "" {
		b.WriteString(strings.ToUpper(ev.direction))
		b.WriteString(": ")
	}
	b.WriteString(sender)
	b.WriteString(" -> ")
	b.WriteString(origin)
	return b.String()
}

func (e *Engine) handlePacket(data []byte) {
	ev, ok := parsePacket(data)
	if !ok {
		return
	}

	now := e.clock.Now()
	e.mu.Lock()
	defer e.mu.Unlock()

	e.pushMessage(ev.text(e.formatTime(now)), now)

	var src, dst Node
	var srcOK, dstOK bool
	switch {
	case ev.src.valid && ev.dst.valid && ev.src.numeric && ev.dst.numeric:
		src, srcOK = e.dir.ByHash(ev.src.hash)
		dst, dstOK = e.dir.ByHash(ev.dst.hash)
	case ev.src.valid && ev.dst.valid && !ev.src.numeric && !ev.dst.numeric:
		src, srcOK = e.dir.ByKeyPrefix(ev.src.token)
		dst, dstOK = e.dir.ByKeyPrefix(ev.dst.token)
	}
	if !srcOK || !dstOK || !src.HasPosition || !dst.HasPosition {
		return
	}
	e.ledger.AddPulse(Pulse{
		Start:     src.WorldPixel(),
		End:       dst.WorldPixel(),
		StartTime: now,
		Duration:  PulseDuration,
	})
}

func parsePropagation(data []byte) (propagationEvent, bool) {
	doc, ok := parseObject(data)
	if !ok {
		return propagationEvent{}, false
	}
	if typ, _ := doc.StringField(0, "type"); typ != "propagation.path" {
		return propagationEvent{}, false
	}
	path := doc.FindKey(0, "path")
	if doc.Kind(path) != jsontok.Object {
		return propagationEvent{entries: -1}, true
	}
	elems := doc.Elements(doc.FindKey(path, "nodes"))
	ev := propagationEvent{entries: len(elems)}
	for _, i := range elems {
		ev.hops = append(ev.hops, readHop(doc, i))
	}
	return ev, true
}

func (e *Engine) handlePropagation(data []byte) {
	ev, ok := parsePropagation(data)
	if !ok {
		return
	}
	seen := e.propagationSeen.Add(1)
	verbose := seen <= 5 || seen%50 == 0
	if verbose {
		e.logger.Printf("Propagation event received (%d)", seen)
	}
	if seen <= 2 {
		e.logger.Printf("Propagation payload preview: %s", data[:min(len(data), previewLen)])
	}
	if ev.entries < 2 {
		return
	}

	now := e.clock.Now()
	e.mu.Lock()
	points := make([]Point, 0, len(ev.hops))
	for _, h := range ev.hops {
		if !h.valid {
			continue
		}
		var n Node
		var found bool
		if h.numeric {
			n, found = e.dir.ByHash(h.hash)
		} else {
			n, found = e.dir.ByToken(h.token)
		}
		if found && n.HasPosition {
			points = append(points, n.WorldPixel())
		}
	}
	if len(points) >= 2 {
		e.ledger.AddPath(PathAnimation{
			Points:    points,
			StartTime: now,
			Duration:  PathDuration(ev.entries),
			Color:     e.palette.next(now),
			Width:     PathWidth,
		})
	}
	e.mu.Unlock()

	if !verbose {
		return
	}
	if len(points) >= 2 {
		e.logger.Printf("Propagation path points: %d", len(points))
	} else {
		e.logger.Printf("Propagation path dropped (matched points: %d)", len(points))
	}
}
