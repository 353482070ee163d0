package server

import (
	"context"
	"io"
	"time"

	"github.com/a-h/templ"
)

// buildError is the most recent failed cycle.
type buildError struct {
	Message string
	At      time.Time
}

// errorPage renders the build error overlay. A nil error renders an
// all-clear page.
func errorPage(be *buildError) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, errorPageHead); err != nil {
			return err
		}

		body := `<main class="ok"><h1>No build errors</h1></main>`
		if be != nil {
			body = `<main class="failed"><h1>Build failed</h1><time>` +
				templ.EscapeString(be.At.Format(time.RFC3339)) +
				`</time><pre>` + templ.EscapeString(be.Message) + `</pre></main>`
		}
		if _, err := io.WriteString(w, body); err != nil {
			return err
		}
		_, err := io.WriteString(w, `</body></html>`)

		return err
	})
}

const errorPageHead = `<!DOCTYPE html><html><head><meta charset="utf-8"><title>skiff build error</title>
<style>
body{margin:0;font-family:system-ui,sans-serif;background:#1e1e1e;color:#eee}
main{padding:24px}
h1{margin:0 0 8px;font-size:20px}
.failed h1{color:#ff6b6b}
.ok h1{color:#6bcb77}
time{color:#999;font-size:12px}
pre{white-space:pre-wrap;background:#111;padding:16px;border-radius:6px}
</style></head><body>`
