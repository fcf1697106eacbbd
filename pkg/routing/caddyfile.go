package routing

import (
	"sort"

	"github.com/variantdev/fleet/pkg/tlsmode"
	"github.com/variantdev/fleet/pkg/tmpl"
)

const caddyfileTemplate = `# Managed by fleet. Changes are overwritten on every run.
{{- if .Passthrough }}

{
	auto_https off
}
{{- end }}
{{- range .Entries }}

{{ .Site }} {
	reverse_proxy {{ .Upstream }}
}
{{- end }}
`

// RenderCaddyfile renders one site block per entry, ordered by host
func RenderCaddyfile(mode tlsmode.Mode, entries []RouteEntry) (string, error) {
	sorted := append([]RouteEntry{}, entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Host < sorted[j].Host
	})

	data := struct {
		Passthrough bool
		Entries     []RouteEntry
	}{
		Passthrough: mode == tlsmode.Passthrough,
		Entries:     sorted,
	}

	return tmpl.Render("Caddyfile", caddyfileTemplate, data)
}
