package banner

import (
	"prodbench/internal/tui/styles"

	"github.com/charmbracelet/lipgloss"
)

func GetString() string {
	renderer := lipgloss.DefaultRenderer()

	style := renderer.NewStyle().
		Foreground(styles.ColorBanner).
		Bold(true)

	ascii := `
                    _ _                     _     
  _ __  _ __ ___   __| | |__   ___ _ __   ___| |__  
 | '_ \| '__/ _ \ / _' | '_ \ / _ \ '_ \ / __| '_ \ 
 | |_) | | | (_) | (_| | |_) |  __/ | | | (__| | | |
 | .__/|_|  \___/ \__,_|_.__/ \___|_| |_|\___|_| |_|
 |_|                                                `

	return "\n" + style.Render(ascii) + "\n"
}
