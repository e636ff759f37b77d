package twilio

import (
	"encoding/xml"
	"fmt"
	"sort"
)

type twimlResponse struct {
	XMLName xml.Name      `xml:"Response"`
	Say     *twimlSay     `xml:"Say,omitempty"`
	Connect *twimlConnect `xml:"Connect"`
}

type twimlSay struct {
	Text string `xml:",chardata"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL        string           `xml:"url,attr"`
	Parameters []twimlParameter `xml:"Parameter,omitempty"`
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// ConnectStream renders TwiML that connects the call to a bidirectional
// media stream at url. greeting, when non-empty, is spoken first. params
// arrive on the stream's start message as customParameters.
func ConnectStream(url, greeting string, params map[string]string) (string, error) {
	resp := twimlResponse{
		Connect: &twimlConnect{Stream: twimlStream{URL: url}},
	}
	if greeting != "" {
		resp.Say = &twimlSay{Text: greeting}
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		resp.Connect.Stream.Parameters = append(resp.Connect.Stream.Parameters,
			twimlParameter{Name: name, Value: params[name]})
	}

	out, err := xml.Marshal(resp)
	if err != nil {
		return "", fmt.Errorf("twilio: render twiml: %w", err)
	}
	return xml.Header + string(out), nil
}
