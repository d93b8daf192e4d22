package twilio

import (
	"encoding/xml"
	"fmt"
)

type Say struct {
	Voice string `xml:"voice,attr,omitempty"`
	Loop  int    `xml:"loop,attr,omitempty"`
	Text  string `xml:",chardata"`
}

type Gather struct {
	Action    string `xml:"action,attr"`
	Method    string `xml:"method,attr"`
	NumDigits int    `xml:"numDigits,attr"`
	Timeout   int    `xml:"timeout,attr"`
	Say       Say    `xml:"Say"`
}

type VoiceResponse struct {
	XMLName xml.Name  `xml:"Response"`
	Gather  *Gather   `xml:"Gather,omitempty"`
	Say     []Say     `xml:"Say,omitempty"`
	Hangup  *struct{} `xml:"Hangup,omitempty"`
}

type SmsResponse struct {
	XMLName xml.Name `xml:"Response"`
	Message string   `xml:"Message,omitempty"`
}

// SOSCallTwiML asks the callee to press 1, which posts the digit to actionURL
func SOSCallTwiML(actionURL, callerName string, isTest bool) (string, error) {
	prompt := fmt.Sprintf("This is an emergency alert from Guardian. %s has triggered an S O S "+
		"and listed you as an emergency contact. Press 1 to confirm you received this alert.", callerName)
	if isTest {
		prompt = "This is only a test. " + prompt
	}

	return marshalTwiML(VoiceResponse{
		Gather: &Gather{
			Action:    actionURL,
			Method:    "POST",
			NumDigits: 1,
			Timeout:   10,
			Say:       Say{Voice: "alice", Loop: 2, Text: prompt},
		},
		Say:    []Say{{Voice: "alice", Text: "We did not receive a response. Goodbye."}},
		Hangup: &struct{}{},
	})
}

// SayAndHangUpTwiML speaks 'text' once and ends the call
func SayAndHangUpTwiML(text string) (string, error) {
	return marshalTwiML(VoiceResponse{
		Say:    []Say{{Voice: "alice", Text: text}},
		Hangup: &struct{}{},
	})
}

func SmsTwiML(message string) (string, error) {
	return marshalTwiML(SmsResponse{Message: message})
}

func marshalTwiML(v interface{}) (string, error) {
	body, err := xml.Marshal(v)
	if err != nil {
		return "", err
	}

	return xml.Header + string(body), nil
}
