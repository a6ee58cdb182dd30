package main

import (
	"encoding/json"

	"github.com/vango-dev/servermanager/pkg/dispatch"
	"github.com/vango-dev/servermanager/pkg/manager"
)

// echoApp is the application served when no other is linked in. It answers
// every action with its name and parameters, and "subscribe" adds the
// caller to the group named in its parameters.
type echoApp struct{}

type echoReply struct {
	Action     string          `json:"action"`
	Parameters json.RawMessage `json:"parameters,omitempty"`
	Protocol   string          `json:"protocol"`
}

func (echoApp) Start(m *manager.Manager) error {
	m.SetListener(func(r *dispatch.Request) {
		if r.Action() == "subscribe" {
			var p struct {
				Group string `json:"group"`
			}
			if err := r.Bind(&p); err != nil || p.Group == "" {
				r.RespondStatus(dispatch.StatusError, "subscribe requires a group")
				return
			}
			if err := m.AddUserGroup(r.SessionID(), p.Group); err != nil {
				r.RespondStatus(dispatch.StatusError, err.Error())
				return
			}
		}
		r.Respond(echoReply{
			Action:     r.Action(),
			Parameters: r.Parameters(),
			Protocol:   r.Protocol(),
		})
	})
	return nil
}
