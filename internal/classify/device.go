package classify

import "strings"

// Checked in order; the first device with a matching keyword wins.
var deviceKeywords = []struct {
	device   string
	keywords []string
}{
	{"laptop", []string{"laptop", "elitebook", "spectre", "probook", "zbook", "envy", "notebook", "screen", "display", "battery", "keyboard", "overheating", "flickering"}},
	{"printer", []string{"printer", "laserjet", "officejet", "print", "ink", "cartridge", "toner", "paper jam"}},
	{"computer", []string{"computer", "desktop", "pc"}},
	{"phone", []string{"phone", "mobile"}},
	{"tablet", []string{"tablet", "ipad"}},
}

// DetectDevice names the device the customer talks about, defaulting to
// "computer". Empty text yields "".
func DetectDevice(text string) string {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return ""
	}
	for _, d := range deviceKeywords {
		for _, kw := range d.keywords {
			if strings.Contains(lower, kw) {
				return d.device
			}
		}
	}
	return "computer"
}
