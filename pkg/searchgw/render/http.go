package render

import "github.com/kasioon/searchgw/pkg/searchgw/model"

// HTTPData is the data half of the API response envelope: the raw result
// plus a message for the conversational intents, which have no listing
// payload to speak for them.
type HTTPData struct {
	model.SearchResult
	Message string `json:"message,omitempty"`
}

// HTTP prepares a result for the JSON envelope.
func HTTP(res model.SearchResult) HTTPData {
	d := HTTPData{SearchResult: res}
	switch res.Intent {
	case model.IntentGreeting:
		d.Message = Greeting(res.Language)
	case model.IntentHelp:
		d.Message = Help(res.Language)
	}
	return d
}
