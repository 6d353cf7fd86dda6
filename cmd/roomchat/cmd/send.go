package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/spf13/cobra"

	"github.com/nfrund/roomchat/internal/auth"
	"github.com/nfrund/roomchat/internal/client"
	"github.com/nfrund/roomchat/internal/domain"
	"github.com/nfrund/roomchat/internal/events"
	"github.com/nfrund/roomchat/internal/reconciler"
)

var (
	sendURL     string
	sendToken   string
	sendRoomID  string
	sendContent string
	sendTimeout time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send one message to a room over the websocket gateway",
	Long: `Connect to the gateway, join a room and send a message. The command waits
for the server to echo the message back and prints the confirmed id.

Examples:
  roomchat send --token "$(roomchat token --user alice)" --room <id> --message "hi"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), sendTimeout)
		defer cancel()

		self, err := authorFromToken(sendToken)
		if err != nil {
			return err
		}

		c, err := client.Dial(ctx, sendURL, sendToken)
		if err != nil {
			return err
		}
		defer c.Close()

		rec := reconciler.New(c, self)
		if err := c.JoinRoom(ctx, sendRoomID); err != nil {
			return err
		}
		if _, err := await(ctx, c, rec, func(env events.Envelope) (bool, error) {
			return env.Type == events.KindRoomJoined, nil
		}); err != nil {
			return fmt.Errorf("join room: %w", err)
		}

		tempID, err := rec.SendMessage(ctx, sendRoomID, sendContent)
		if err != nil {
			return err
		}
		env, err := await(ctx, c, rec, func(env events.Envelope) (bool, error) {
			if env.Type != events.KindNewMessage {
				return false, nil
			}
			var ev events.NewMessageEvent
			if err := json.Unmarshal(env.Payload, &ev); err != nil {
				return false, err
			}
			return ev.ClientTempID == tempID, nil
		})
		if err != nil {
			return fmt.Errorf("send message: %w", err)
		}

		var ev events.NewMessageEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "sent %s at %s\n", ev.Message.ID, ev.Message.CreatedAt.Format(time.RFC3339))
		return nil
	},
}

// await feeds frames to the reconciler until match accepts one. Error frames
// end the wait.
func await(ctx context.Context, c *client.Client, rec *reconciler.Reconciler, match func(events.Envelope) (bool, error)) (events.Envelope, error) {
	for {
		select {
		case env, ok := <-c.Events():
			if !ok {
				if err := c.Err(); err != nil {
					return events.Envelope{}, err
				}
				return events.Envelope{}, client.ErrClosed
			}
			if err := rec.HandleEvent(env); err != nil {
				return events.Envelope{}, err
			}
			if env.Type == events.KindError {
				var ev events.ErrorEvent
				if err := json.Unmarshal(env.Payload, &ev); err != nil {
					return events.Envelope{}, err
				}
				return events.Envelope{}, fmt.Errorf("server: %s: %s", ev.Code, ev.Message)
			}
			ok, err := match(env)
			if err != nil {
				return events.Envelope{}, err
			}
			if ok {
				return env, nil
			}
		case <-ctx.Done():
			return events.Envelope{}, ctx.Err()
		}
	}
}

// authorFromToken reads the identity out of a credential without verifying
// it; the server does that at handshake.
func authorFromToken(token string) (domain.Author, error) {
	if token == "" {
		return domain.Author{}, errors.New("--token is required")
	}
	var claims auth.Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return domain.Author{}, fmt.Errorf("parse token: %w", err)
	}
	return domain.Author{ID: claims.Subject, Username: claims.Username}, nil
}

func init() {
	rootCmd.AddCommand(sendCmd)

	sendCmd.Flags().StringVar(&sendURL, "url", "ws://localhost:8080/ws", "Gateway websocket URL")
	sendCmd.Flags().StringVarP(&sendToken, "token", "t", "", "Credential issued by 'roomchat token'")
	sendCmd.Flags().StringVarP(&sendRoomID, "room", "r", "", "Room id")
	sendCmd.Flags().StringVarP(&sendContent, "message", "m", "", "Message content")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 10*time.Second, "How long to wait for the echo")
	_ = sendCmd.MarkFlagRequired("room")
	_ = sendCmd.MarkFlagRequired("message")
}
