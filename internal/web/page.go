package web

import (
	"strconv"

	"github.com/book-expert/music-service/internal/music"
)

//go:generate templ generate

// FormData prefills the generation form rendered by FormPage.
type FormData struct {
	Request  music.Request
	Devices  []string
	Versions []string
}

// Slider is one range input of the form, with its bounds already formatted.
type Slider struct {
	Name  string
	Label string
	Min   string
	Max   string
	Step  string
	Value string
}

// Sliders lists the numeric sampling controls, bounded by the request limits.
func (d FormData) Sliders() []Slider {
	req := d.Request

	return []Slider{
		{
			Name: "max_audio_length_ms", Label: "Max audio length (ms)",
			Min:  strconv.Itoa(music.MinMaxAudioLengthMs), Max: strconv.Itoa(music.MaxMaxAudioLengthMs),
			Step: "1000", Value: strconv.Itoa(req.MaxAudioLengthMs),
		},
		{
			Name: "topk", Label: "Top-k",
			Min:  strconv.Itoa(music.MinTopK), Max: strconv.Itoa(music.MaxTopK),
			Step: "1", Value: strconv.Itoa(req.TopK),
		},
		{
			Name: "temperature", Label: "Temperature",
			Min:  formatFloat(music.MinTemperature), Max: formatFloat(music.MaxTemperature),
			Step: "0.05", Value: formatFloat(req.Temperature),
		},
		{
			Name: "cfg_scale", Label: "CFG scale",
			Min:  formatFloat(music.MinCFGScale), Max: formatFloat(music.MaxCFGScale),
			Step: "0.1", Value: formatFloat(req.CFGScale),
		},
	}
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}
