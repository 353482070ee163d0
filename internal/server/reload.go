package server

import (
	"bytes"
	"encoding/json"
	"time"
)

const (
	wsPath     = "/_skiff/ws"
	errorPath  = "/_skiff/error"
	healthPath = "/_skiff/health"
)

// reloadScript reconnects to the hub, reloads on a successful build and
// overlays the error page on a failed one.
const reloadScript = `<script>(function(){
var proto = location.protocol === "https:" ? "wss:" : "ws:";
var overlay;
function connect(){
  var ws = new WebSocket(proto + "//" + location.host + "` + wsPath + `");
  ws.onmessage = function(e){
    var msg = JSON.parse(e.data);
    if (msg.type === "reload") { location.reload(); }
    if (msg.type === "error") {
      if (!overlay) {
        overlay = document.createElement("iframe");
        overlay.style.cssText = "position:fixed;inset:0;width:100%;height:100%;border:0;z-index:2147483647";
        document.body.appendChild(overlay);
      }
      overlay.src = "` + errorPath + `";
    }
  };
  ws.onclose = function(){ setTimeout(connect, 1000); };
}
connect();
})();</script>`

// message is sent to connected browsers.
type message struct {
	Type      string    `json:"type"`
	Cycle     string    `json:"cycle,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (m message) encode() []byte {
	data, err := json.Marshal(m)
	if err != nil {
		return []byte(`{"type":"reload"}`)
	}

	return data
}

// injectReload inserts the reload script before </body>, or appends it.
func injectReload(page []byte) []byte {
	i := bytes.LastIndex(bytes.ToLower(page), []byte("</body>"))
	if i < 0 {
		return append(page, reloadScript...)
	}

	out := make([]byte, 0, len(page)+len(reloadScript))
	out = append(out, page[:i]...)
	out = append(out, reloadScript...)

	return append(out, page[i:]...)
}
