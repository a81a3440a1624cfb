package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/fatih/color"
	"github.com/gorilla/websocket"

	"github.com/riptidelabs/orderflow/go/order"
)

type cmdSubmit struct {
	Server    string `long:"server" default:"http://localhost:8080" description:"Base URL of the orderflow service"`
	TokenIn   string `long:"token-in" required:"true" description:"Mint of the token to sell"`
	TokenOut  string `long:"token-out" required:"true" description:"Mint of the token to buy"`
	Amount    uint64 `long:"amount" required:"true" description:"Amount to sell, in base units of token-in"`
	AuthToken string `long:"auth-token" env:"ORDERFLOW_AUTH_TOKEN" description:"Bearer token, when the service requires auth"`
}

func (cmd *cmdSubmit) Execute(_ []string) error {
	body, err := json.Marshal(map[string]any{
		"tokenIn":   cmd.TokenIn,
		"tokenOut":  cmd.TokenOut,
		"amount":    cmd.Amount,
		"orderType": string(order.TypeMarket),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost,
		strings.TrimSuffix(cmd.Server, "/")+"/api/orders/execute", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if cmd.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+cmd.AuthToken)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("submitting order: %w", err)
	}
	defer resp.Body.Close()

	var accepted struct {
		OrderID string          `json:"orderId"`
		Status  string          `json:"status"`
		Message string          `json:"message"`
		Issues  json.RawMessage `json:"issues"`
	}
	if err = json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		if len(accepted.Issues) != 0 {
			return fmt.Errorf("%s: %s", accepted.Message, accepted.Issues)
		}
		return fmt.Errorf("order rejected: %s", accepted.Message)
	}
	fmt.Printf("order %s accepted\n", color.CyanString(accepted.OrderID))

	return cmd.follow(accepted.OrderID)
}

// follow subscribes to the order's status stream and renders each
// update until a terminal status arrives.
func (cmd *cmdSubmit) follow(orderID string) error {
	var wsURL = strings.Replace(strings.TrimSuffix(cmd.Server, "/"), "http", "ws", 1) +
		"/api/orders/execute?orderId=" + orderID
	if cmd.AuthToken != "" {
		wsURL += "&access_token=" + cmd.AuthToken
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		return fmt.Errorf("subscribing to order updates: %w", err)
	}
	defer conn.Close()

	for {
		var msg order.StatusMessage
		if err = conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("reading status stream: %w", err)
		}

		var line = fmt.Sprintf("%-10s", msg.Status)
		switch msg.Status {
		case order.StatusConfirmed:
			line = color.GreenString(line)
		case order.StatusFailed:
			line = color.RedString(line)
		default:
			line = color.YellowString(line)
		}
		if msg.Detail != "" {
			line += " " + msg.Detail
		}
		if msg.Link != "" {
			line += "  " + color.New(color.Faint).Sprint(msg.Link)
		}
		fmt.Println(line)

		if msg.Status.Terminal() {
			if msg.Status == order.StatusFailed {
				return fmt.Errorf("order %s failed", orderID)
			}
			return nil
		}
	}
}
