package main

import (
	"encoding/json"
	"fmt"
	tea "github.com/charmbracelet/bubbletea"
	"net/http"
)

var client http.Client

type NewStockMsg struct {
	stock   map[string]int
	notices map[string]string
}

type NewQueueStatusMsg struct {
	suspended bool
	reason    string
}

type ActionDoneMsg struct {
	message string
}

type FetchErrMsg struct {
	err error
}

func FetchStock() tea.Msg {
	resp, err := client.Get(fmt.Sprintf("%s/stock", *gateway))
	if err != nil {
		return FetchErrMsg{err}
	}
	defer resp.Body.Close()

	var stock map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&stock); err != nil {
		return FetchErrMsg{err}
	}

	resp2, err := client.Get(fmt.Sprintf("%s/notices", *gateway))
	if err != nil {
		return FetchErrMsg{err}
	}
	defer resp2.Body.Close()

	var notices map[string]string
	if err := json.NewDecoder(resp2.Body).Decode(&notices); err != nil {
		return FetchErrMsg{err}
	}

	return NewStockMsg{stock, notices}
}

func FetchQueueStatus() tea.Msg {
	resp, err := client.Get(fmt.Sprintf("%s/queue", *gateway))
	if err != nil {
		return FetchErrMsg{err}
	}
	defer resp.Body.Close()

	var status struct {
		Suspended bool   `json:"suspended"`
		Reason    string `json:"reason"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return FetchErrMsg{err}
	}

	return NewQueueStatusMsg{status.Suspended, status.Reason}
}

func TriggerRefresh() tea.Msg {
	resp, err := client.Post(fmt.Sprintf("%s/refresh", *engine), "application/json", nil)
	if err != nil {
		return FetchErrMsg{err}
	}
	defer resp.Body.Close()

	var body struct {
		Message  string `json:"message"`
		Enqueued int    `json:"enqueued"`
		Error    string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return FetchErrMsg{err}
	}
	if body.Error != "" {
		return ActionDoneMsg{body.Error}
	}

	return ActionDoneMsg{fmt.Sprintf("%s (%d jobs)", body.Message, body.Enqueued)}
}

func ResumeQueue() tea.Msg {
	resp, err := client.Post(fmt.Sprintf("%s/queue/resume", *engine), "application/json", nil)
	if err != nil {
		return FetchErrMsg{err}
	}
	defer resp.Body.Close()

	var body struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return FetchErrMsg{err}
	}
	if body.Error != "" {
		return ActionDoneMsg{body.Error}
	}

	return ActionDoneMsg{body.Message}
}
