package server

import (
	"github.com/nfrund/roomchat/internal/module"
	"github.com/nfrund/roomchat/internal/modules/chat"
)

// AppModules returns every application module in boot order.
func AppModules() []module.Module {
	return []module.Module{
		chat.New(),
	}
}
