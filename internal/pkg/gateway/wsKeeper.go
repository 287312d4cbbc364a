package gateway

import (
	"strings"
	"sync"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/castgate/castgate/internal/pkg/jobs"
	sapi "github.com/castgate/castgate/internal/pkg/studio/api"
)

// WsConn is interface for websocket handling in gateway service
type WsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	Close() error
	WriteJSON(v interface{}) error
}

// WSConnKeeper implements connection management.
// A client subscribes by sending its owner ID as the first text message.
type WSConnKeeper struct {
	ownerConnectionMap map[string]map[WsConn]struct{}
	connectionOwnerMap map[WsConn]string
	mapLock            *sync.Mutex
	timeOut            time.Duration
}

// NewWSConnKeeper creates manager
func NewWSConnKeeper() *WSConnKeeper {
	res := &WSConnKeeper{}
	res.ownerConnectionMap = make(map[string]map[WsConn]struct{})
	res.connectionOwnerMap = make(map[WsConn]string)
	res.mapLock = &sync.Mutex{}
	res.timeOut = time.Minute * 30 // max time limit for a connection
	return res
}

// HandleConnection loops until connection active and saves connection with provided owner as key
func (kp *WSConnKeeper) HandleConnection(conn WsConn) error {
	defer kp.deleteConnection(conn)
	defer conn.Close()
	readCh := make(chan string)
	go func() {
		defer close(readCh)
		defer goapp.Log.Debug().Msg("read routine ended")
		for {
			_, message, err := conn.ReadMessage()
			if err != nil {
				goapp.Log.Error().Err(err).Send()
				return
			}
			msg := strings.TrimSpace(string(message))
			goapp.Log.Debug().Str("msg", goapp.Sanitize(msg)).Msg("got msg")
			if msg != "" {
				readCh <- msg
			} else {
				time.Sleep(20 * time.Millisecond)
			}
		}
	}()

	ta := time.After(kp.timeOut)
loop:
	for {
		select {
		case <-ta:
			goapp.Log.Debug().Msg("conn timeouted")
			break loop
		case msg, ok := <-readCh:
			if !ok {
				goapp.Log.Debug().Msg("conn read closed?")
				break loop
			}
			kp.saveConnection(conn, msg)
			ta = time.After(kp.timeOut)
		}
	}
	goapp.Log.Info().Msg("handleConnection finish")
	return nil
}

func (kp *WSConnKeeper) deleteConnection(conn WsConn) {
	kp.mapLock.Lock()
	defer kp.mapLock.Unlock()
	kp.deleteConnectionNoSync(conn)
}

func (kp *WSConnKeeper) deleteConnectionNoSync(conn WsConn) {
	owner, found := kp.connectionOwnerMap[conn]
	if found {
		conns, found := kp.ownerConnectionMap[owner]
		if found {
			delete(conns, conn)
			if len(conns) == 0 {
				delete(kp.ownerConnectionMap, owner)
			}
		}
	}
	delete(kp.connectionOwnerMap, conn)
	goapp.Log.Info().Int("active", len(kp.connectionOwnerMap)).Msg("deleteConnection finish")
}

func (kp *WSConnKeeper) saveConnection(conn WsConn, owner string) {
	goapp.Log.Info().Str("owner", goapp.Sanitize(owner)).Msg("saveConnection")
	kp.mapLock.Lock()
	defer kp.mapLock.Unlock()
	kp.deleteConnectionNoSync(conn)
	kp.connectionOwnerMap[conn] = owner
	conns, found := kp.ownerConnectionMap[owner]
	if !found {
		conns = map[WsConn]struct{}{}
		kp.ownerConnectionMap[owner] = conns
	}
	conns[conn] = struct{}{}
	goapp.Log.Info().Int("active", len(kp.connectionOwnerMap)).Msg("saveConnection finish")
}

// GetConnections returns saved connections by provided owner
func (kp *WSConnKeeper) GetConnections(owner string) ([]WsConn, bool) {
	kp.mapLock.Lock()
	defer kp.mapLock.Unlock()
	cm, found := kp.ownerConnectionMap[owner]
	if found {
		res := []WsConn{}
		for c := range cm {
			res = append(res, c)
		}
		return res, true
	}
	return nil, false
}

// Event types pushed over the websocket
const (
	EventJobUpdate = "jobUpdate"
	EventNavigate  = "navigate"
	EventInfo      = "info"
)

// Event is a message pushed to subscribed clients
type Event struct {
	Type       string       `json:"type"`
	Job        *jobs.Record `json:"job,omitempty"`
	ArtifactID string       `json:"artifactId,omitempty"`
	URL        string       `json:"url,omitempty"`
	Message    string       `json:"message,omitempty"`
}

// Pusher fans tracker events out to the owner's websocket connections
type Pusher struct {
	ws WSConnHandler
}

// NewPusher creates pusher
func NewPusher(ws WSConnHandler) *Pusher {
	return &Pusher{ws: ws}
}

// JobUpdate pushes the changed job record to its owner
func (p *Pusher) JobUpdate(rec jobs.Record) {
	p.send(rec.OwnerID, &Event{Type: EventJobUpdate, Job: &rec})
}

// NavigateTo tells the owner's clients to open the finished artifact
func (p *Pusher) NavigateTo(owner string, a *sapi.Artifact) {
	p.send(owner, &Event{Type: EventNavigate, ArtifactID: a.ID, URL: a.URL})
}

// Info pushes an informational message to the owner's clients
func (p *Pusher) Info(owner, msg string) {
	p.send(owner, &Event{Type: EventInfo, Message: msg})
}

func (p *Pusher) send(owner string, ev *Event) {
	conns, found := p.ws.GetConnections(owner)
	if !found {
		goapp.Log.Debug().Str("owner", goapp.Sanitize(owner)).Msg("no connections found")
		return
	}
	for _, c := range conns {
		if err := c.WriteJSON(ev); err != nil {
			goapp.Log.Error().Err(err).Msg("cannot write to websocket")
		}
	}
}
