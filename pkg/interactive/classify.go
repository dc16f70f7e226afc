package interactive

import (
	"encoding/json"
	"strings"
)

// Classification is the detailed outcome of Classify.
type Classification struct {
	Success bool
	// Keywords is how many keyword events were seen before the scan stopped.
	Keywords    int
	FinalStatus Status
	// Reason names the failing signal, empty on success.
	Reason string
	// Defaulted is set when no keyword events were present and success was
	// assumed.
	Defaulted bool
}

// Classify reports whether a trace succeeded.
func Classify(events []Event) bool {
	return ClassifyDetailed(events).Success
}

// ClassifyDetailed scans the trace in order. The first failing signal wins:
// an error marker or a FAIL keyword ends the scan, so a later PASS never
// rescues an earlier failure. A trace without keyword events succeeds.
func ClassifyDetailed(events []Event) Classification {
	var c Classification
	for _, evt := range events {
		if marked, text := evt.ErrorMarker(); marked {
			c.Reason = "error"
			if text != "" {
				c.Reason = text
			}
			return c
		}
		kw, ok := evt.(KeywordEvent)
		if !ok {
			continue
		}
		c.Keywords++
		c.FinalStatus = kw.Status
		if kw.Status == StatusFail {
			c.Reason = "keyword failed: " + kw.Keyword
			return c
		}
	}

	if c.Keywords == 0 {
		c.Success = true
		c.Defaulted = true
		return c
	}
	c.Success = c.FinalStatus == StatusPass || c.FinalStatus == StatusNotSet
	if !c.Success {
		c.Reason = "final keyword status " + string(c.FinalStatus)
	}
	return c
}

// Extraction holds the salient content of a trace. Empty fields were not
// present.
type Extraction struct {
	Output      string
	Error       string
	PageContent string
	PageURL     string
	BrowserInfo json.RawMessage
	ElapsedTime *float64
}

// Extract pulls the first-seen value of each field from the trace.
func Extract(events []Event) Extraction {
	var ex Extraction
	for _, evt := range events {
		if ex.Error == "" {
			if marked, text := evt.ErrorMarker(); marked && text != "" {
				ex.Error = text
			}
		}
		if ex.ElapsedTime == nil {
			if secs, ok := evt.Elapsed(); ok {
				ex.ElapsedTime = &secs
			}
		}

		switch e := evt.(type) {
		case KeywordEvent:
			if ex.Output == "" {
				ex.Output = e.output
			}
			if ex.Error == "" && e.Status == StatusFail && e.Message != "" {
				ex.Error = e.Message
			}
		case ContentEvent:
			if ex.PageContent == "" {
				ex.PageContent = e.Content
				ex.PageURL = e.URL
			}
		case BrowserInfoEvent:
			if ex.BrowserInfo == nil {
				ex.BrowserInfo = e.Info
			}
		case ErrorEvent:
			if ex.Error == "" && e.Message != "" {
				ex.Error = e.Message
			}
		case UnknownEvent:
			if ex.Output == "" {
				ex.Output = e.output
			}
		}
	}
	return ex
}

// Screenshot is an image extracted from a trace, as raw base64.
type Screenshot struct {
	Data     string
	MIMEType string
}

const defaultImageMIME = "image/png"

// ExtractScreenshots returns every image in arrival order with any data-URI
// prefix stripped.
func ExtractScreenshots(events []Event) []Screenshot {
	var out []Screenshot
	for _, evt := range events {
		shot, ok := evt.(ScreenshotEvent)
		if !ok {
			continue
		}
		data, mime := splitDataURI(shot.Data)
		if data == "" {
			continue
		}
		out = append(out, Screenshot{Data: data, MIMEType: mime})
	}
	return out
}

// splitDataURI turns "data:image/png;base64,AAAA" into ("AAAA", "image/png").
func splitDataURI(s string) (data, mime string) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "data:") {
		return s, defaultImageMIME
	}
	header, payload, ok := strings.Cut(s, ",")
	if !ok {
		return "", defaultImageMIME
	}
	mime = strings.TrimPrefix(header, "data:")
	mime, _, _ = strings.Cut(mime, ";")
	if mime == "" {
		mime = defaultImageMIME
	}
	return payload, mime
}
