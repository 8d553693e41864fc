package honeypot

import (
	"fmt"
	"strings"
	"time"
)

// InjectionScript builds the self-contained document-injection payload that
// plants the session's trap elements. Each element is hidden through several
// redundant CSS rules so that no single stylesheet reset reveals it. The
// payload is handed to the driver as an opaque string and installed before
// first document load.
func (r *Registry) InjectionScript(sessionID string) string {
	traps := r.Traps(sessionID)

	var b strings.Builder
	fmt.Fprintf(&b, "// Sentinel honeypot injection\n// Session: %s\n// Generated: %s\n",
		sessionID, time.Now().UTC().Format(time.RFC3339))
	b.WriteString(`(function() {
  if (window.__sentinelHoneypotInjected) return;
  window.__sentinelHoneypotInjected = true;
  window.__sentinelHoneypotTriggered = null;
`)

	for _, trap := range traps {
		fmt.Fprintf(&b, `  (function() {
    const el = document.createElement(%q);
    el.id = 'honey-%s';
    el.className = %q;
    el.setAttribute('data-sentinel-trap', %q);
    el.setAttribute('aria-hidden', 'true');
    el.style.cssText = 'position:absolute !important;'
      + 'left:-10000px !important; top:-10000px !important;'
      + 'width:1px !important; height:1px !important;'
      + 'overflow:hidden !important; opacity:0 !important;'
      + 'pointer-events:none !important; font-size:1px !important;';
    el.textContent = %q;
    const children = document.body.children;
    if (children.length > 0) {
      const i = Math.floor(Math.random() * children.length);
      document.body.insertBefore(el, children[i]);
    } else {
      document.body.appendChild(el);
    }
    el.addEventListener('click', () => {
      window.__sentinelHoneypotTriggered = {
        trapId: %q, action: 'CLICK', timestamp: new Date().toISOString()
      };
    });
  })();
`, trap.ElementType, trap.ID, trap.CSSClass+" sentinel-trap", trap.ID, trap.Content, trap.ID)
	}

	b.WriteString("})();\n")
	return b.String()
}
