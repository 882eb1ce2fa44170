package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/marketbot/relay/internal/config"
	"github.com/marketbot/relay/pkg/protocol"
)

func chatCmd() *cobra.Command {
	var agentID string
	var message string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with an agent through the gateway",
		Long:  "Opens an interactive chat with an agent, or sends a single message with -m. Replies are routed through the same pipeline as channel messages.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			client, err := dialGateway(cfg)
			if err != nil {
				return err
			}
			defer client.close()

			chatID := "cli:" + uuid.NewString()[:8]

			if message != "" {
				reply, err := chatOnce(client, agentID, chatID, message)
				if err != nil {
					return err
				}
				fmt.Println(reply)
				return nil
			}

			agentLabel := agentID
			if agentLabel == "" {
				agentLabel = cfg.ResolveDefaultAgentID()
			}
			fmt.Fprintf(os.Stderr, "mbrelay chat (agent: %s, chat: %s)\n", agentLabel, chatID)
			fmt.Fprintln(os.Stderr, "Type \"exit\" to quit, \"/new\" for a fresh chat")
			fmt.Fprintln(os.Stderr)

			scanner := bufio.NewScanner(os.Stdin)
			for {
				fmt.Fprint(os.Stderr, "You: ")
				if !scanner.Scan() {
					return nil
				}
				input := strings.TrimSpace(scanner.Text())
				if input == "" {
					continue
				}
				if input == "exit" || input == "quit" {
					return nil
				}
				if input == "/new" {
					chatID = "cli:" + uuid.NewString()[:8]
					fmt.Fprintf(os.Stderr, "New chat: %s\n\n", chatID)
					continue
				}

				reply, err := chatOnce(client, agentID, chatID, input)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Error: %v\n\n", err)
					continue
				}
				fmt.Printf("\n%s\n\n", reply)
			}
		},
	}

	cmd.Flags().StringVar(&agentID, "agent", "", "agent id (default: the default agent)")
	cmd.Flags().StringVarP(&message, "message", "m", "", "send one message and exit")
	return cmd
}

// chatOnce sends one operator message and waits for the matching chat event.
func chatOnce(client *gatewayClient, agentID, chatID, message string) (string, error) {
	result, err := client.call(protocol.MethodChatSend, map[string]string{
		"agentId": agentID,
		"chatId":  chatID,
		"message": message,
	})
	if err != nil {
		return "", err
	}
	var accepted struct {
		ChatID string `json:"chatId"`
	}
	if err := json.Unmarshal(result, &accepted); err != nil {
		return "", fmt.Errorf("chat.send result: %w", err)
	}

	// The reply comes back as a chat event once the agent turn finishes.
	for {
		f, err := client.readFrame()
		if err != nil {
			return "", fmt.Errorf("waiting for reply: %w", err)
		}
		if f.Type != protocol.FrameTypeEvent || f.Event != protocol.EventChat {
			continue
		}
		var data struct {
			ChatID  string `json:"chatId"`
			Content string `json:"content"`
		}
		if err := json.Unmarshal(f.Data, &data); err != nil {
			continue
		}
		if data.ChatID != accepted.ChatID {
			continue
		}
		return data.Content, nil
	}
}
