package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/web3-frozen/onchain-alerts/internal/store"
	"github.com/web3-frozen/onchain-alerts/internal/telegram"
)

type WalletStore interface {
	ListWallets(ctx context.Context, chatID int64) ([]store.Wallet, error)
	AddWallet(ctx context.Context, chatID int64, address string) (*store.Wallet, error)
}

func ListWallets(s WalletStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		chatID, ok := chatIDParam(w, r)
		if !ok {
			return
		}
		wallets, err := s.ListWallets(r.Context(), chatID)
		if err != nil {
			http.Error(w, `{"error":"failed to list wallets"}`, http.StatusInternalServerError)
			return
		}
		if wallets == nil {
			wallets = []store.Wallet{}
		}
		writeJSON(w, http.StatusOK, wallets)
	}
}

func AddWallet(s WalletStore) http.HandlerFunc {
	type request struct {
		ChatID  int64  `json:"chat_id"`
		Address string `json:"address"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if req.ChatID == 0 || req.Address == "" {
			http.Error(w, `{"error":"chat_id and address required"}`, http.StatusBadRequest)
			return
		}
		if !telegram.IsAddress(req.Address) {
			http.Error(w, `{"error":"invalid address"}`, http.StatusBadRequest)
			return
		}

		wallet, err := s.AddWallet(r.Context(), req.ChatID, req.Address)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				http.Error(w, `{"error":"unknown chat"}`, http.StatusNotFound)
				return
			}
			http.Error(w, `{"error":"failed to add wallet"}`, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusCreated, wallet)
	}
}
