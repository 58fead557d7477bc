package coloring

import "strings"

// Theme selects the color palette.
type Theme string

const (
	Light Theme = "light"
	Dark  Theme = "dark"
)

// ParseTheme maps "dark" (any case) to Dark and everything else to Light.
func ParseTheme(s string) Theme {
	if strings.EqualFold(strings.TrimSpace(s), string(Dark)) {
		return Dark
	}
	return Light
}

var paletteLight = []string{
	"#9966ff", // purple
	"#6666ff", // indigo
	"#6699ff", // blue
	"#ffcc66", // amber
	"#ff9966", // orange
	"#ff6666", // red
	"#14b8a6", // teal
	"#84cc16", // lime
	"#3b82f6", // bright blue
}

// One Dark syntax colors.
var paletteDark = []string{
	"#61afef",
	"#98c379",
	"#e5c07b",
	"#e06c75",
	"#c678dd",
	"#56b6c2",
	"#d19a66",
	"#be5046",
}

// EntityTheme is the set of colors used to draw one entity node.
type EntityTheme struct {
	Header string `json:"header"`
	Body   string `json:"body"`
	Nav    string `json:"nav"`
	Border string `json:"border"`
	Text   string `json:"text"`
}

var entityThemesLight = []EntityTheme{
	{Header: "#9966ff", Body: "#e9dfff", Nav: "#d8b4fe", Border: "#aaaaaa", Text: "#1a2a3a"},
	{Header: "#6666ff", Body: "#dbeafe", Nav: "#c7d2fe", Border: "#bbbbbb", Text: "#2a3a4a"},
	{Header: "#6699ff", Body: "#cfe4fc", Nav: "#a5cfff", Border: "#cccccc", Text: "#3a4a5a"},
	{Header: "#ffcc66", Body: "#fef3c7", Nav: "#fde68a", Border: "#dddddd", Text: "#4a5a6a"},
	{Header: "#ff9966", Body: "#ffe4cc", Nav: "#ffdcb3", Border: "#aaaaaa", Text: "#1a2a3a"},
	{Header: "#ff6666", Body: "#fee2e2", Nav: "#fecaca", Border: "#bbbbbb", Text: "#2a3a4a"},
	{Header: "#14b8a6", Body: "#ccfbf1", Nav: "#99f6e4", Border: "#cccccc", Text: "#3a4a5a"},
	{Header: "#84cc16", Body: "#dceeb8", Nav: "#c6ec7e", Border: "#dddddd", Text: "#4a5a6a"},
	{Header: "#3b82f6", Body: "#d1e5fd", Nav: "#93c5fd", Border: "#aaaaaa", Text: "#1a2a3a"},
}

// Dark entity nodes share one body style and only vary the header.
const (
	darkBody   = "#282c34"
	darkNav    = "#21252b"
	darkBorder = "#3e4451"
	darkText   = "#abb2bf"
)

func palette(theme Theme) []string {
	if theme == Dark {
		return paletteDark
	}
	return paletteLight
}

// PaletteLength returns the number of colors in the theme's palette.
func PaletteLength(theme Theme) int {
	return len(palette(theme))
}

// Color returns the palette color for a color index. Indexes wrap around.
func Color(index int, theme Theme) string {
	p := palette(theme)
	return p[wrap(index, len(p))]
}

// ThemeFor returns the node colors for a color index.
func ThemeFor(index int, theme Theme) EntityTheme {
	if theme == Dark {
		return EntityTheme{
			Header: paletteDark[wrap(index, len(paletteDark))],
			Body:   darkBody,
			Nav:    darkNav,
			Border: darkBorder,
			Text:   darkText,
		}
	}
	return entityThemesLight[wrap(index, len(entityThemesLight))]
}

func wrap(index, n int) int {
	i := index % n
	if i < 0 {
		i += n
	}
	return i
}
