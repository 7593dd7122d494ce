package router

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/oxen-io/session-push-notification-server/internal/core/hive"
	"github.com/oxen-io/session-push-notification-server/internal/core/subs"
	"github.com/oxen-io/session-push-notification-server/pkg/types"
)

// notifyMessageRequest 对应 spec.md §4.3 的 notify.message：一个服务节点投递的
// 入站消息通知。RequestRouter 上的所有端点都是 JSON 请求体（spec.md §4.6），字段
// 沿用 subscribe/unsubscribe 的十六进制/无填充 base64 编码约定。
type notifyMessageRequest struct {
	Account   string `json:"account"`
	MsgHash   string `json:"msg_hash"`
	Namespace int16  `json:"namespace"`
	Timestamp int64  `json:"timestamp"`
	Expiry    int64  `json:"expiry"`
	Body      string `json:"body,omitempty"`
}

// notifyBlockRequest 对应 spec.md §4.7：触发一次拓扑刷新，字段仅用于日志记录。
type notifyBlockRequest struct {
	Hash   string `json:"hash,omitempty"`
	Height int64  `json:"height,omitempty"`
}

// adminServiceStatsRequest 对应 spec.md §4.5：通知器上报的统计字典，经
// bencode 编码后以十六进制字符串嵌入 JSON 请求体。
type adminServiceStatsRequest struct {
	Name    string `json:"name"`
	Payload string `json:"payload"`
}

// handleSubscribe 实现 spec.md §4.6 的 subscribe 端点。
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	var req subscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.BadInput, "malformed request body: %v", err)
		return
	}

	account, err := req.toAccount()
	if err != nil {
		writeError(w, types.BadInput, "%v", err)
		return
	}
	sub, err := req.toSubscription(account)
	if err != nil {
		writeError(w, types.BadInput, "%v", err)
		return
	}
	now := s.clock()
	if err := sub.ValidateFields(now); err != nil {
		writeError(w, types.BadInput, "%v", err)
		return
	}
	if err := sub.VerifySignature(); err != nil {
		writeError(w, types.BadInput, "%v", err)
		return
	}

	outcome, rerr := s.hivemind.Subscribe(r.Context(), sub, req.ServiceInfo)
	if rerr != nil {
		writeError(w, rerr.Code, "%s", rerr.Message)
		return
	}

	resp := successResponse{Success: true}
	switch outcome {
	case subs.Added:
		resp.Added = true
	default:
		resp.Updated = true
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleUnsubscribe 实现 spec.md §4.6 的 unsubscribe 端点。
func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	var req unsubscribeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.BadInput, "malformed request body: %v", err)
		return
	}

	account, err := req.toAccount()
	if err != nil {
		writeError(w, types.BadInput, "%v", err)
		return
	}
	if err := req.verify(account, s.clock()); err != nil {
		writeError(w, types.BadInput, "%v", err)
		return
	}

	removed, err := s.hivemind.Unsubscribe(account, req.Service)
	if err != nil {
		writeError(w, types.Error, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true, Removed: removed})
}

// handleNotifyMessage 实现 spec.md §4.3 所述的入站消息处理，经由 RequestRouter
// 的 JSON 端点喂给 Hive（Hive 本身完成去重/扇出的路由查找）。
func (s *Server) handleNotifyMessage(w http.ResponseWriter, r *http.Request) {
	var req notifyMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.BadInput, "malformed request body: %v", err)
		return
	}

	accountID, err := decodeBytes(req.Account)
	if err != nil {
		writeError(w, types.BadInput, "%v", err)
		return
	}
	msgHash, err := decodeBytes(req.MsgHash)
	if err != nil {
		writeError(w, types.BadInput, "%v", err)
		return
	}
	var body []byte
	if req.Body != "" {
		body, err = decodeBytes(req.Body)
		if err != nil {
			writeError(w, types.BadInput, "%v", err)
			return
		}
	}

	account, ok := s.store.AccountByID(accountID)
	if !ok {
		// 该账户没有任何已知订阅，直接丢弃——没有可扇出的目标。
		writeJSON(w, http.StatusOK, successResponse{Success: true})
		return
	}

	s.hivemind.HandleIncomingMessage(account, hive.IncomingMessage{
		MsgHash:   msgHash,
		Namespace: req.Namespace,
		Timestamp: req.Timestamp,
		Expiry:    req.Expiry,
		Body:      body,
		HasBody:   req.Body != "",
	})
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// handleNotifyBlock 实现 spec.md §4.7：触发一次拓扑刷新。刷新本身涉及出站 RPC，
// 异步执行，端点立即应答。
func (s *Server) handleNotifyBlock(w http.ResponseWriter, r *http.Request) {
	var req notifyBlockRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Hash != "" {
		s.hivemind.NoteBlock(req.Hash, req.Height)
	}
	go s.hivemind.Refresh(context.Background())
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// handleAdminServiceStats 实现 spec.md §4.5 的 admin.service_stats：通知器
// 上报的 bencode 统计字典，按十六进制字符串嵌入 JSON 请求体。
func (s *Server) handleAdminServiceStats(w http.ResponseWriter, r *http.Request) {
	var req adminServiceStatsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, types.BadInput, "malformed request body: %v", err)
		return
	}
	payload, err := decodeBytes(req.Payload)
	if err != nil {
		writeError(w, types.BadInput, "%v", err)
		return
	}
	if err := s.hivemind.ReportServiceStats(req.Name, payload); err != nil {
		writeError(w, types.Error, "%v", err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// handleAdminGetStats 实现 spec.md §4.6 的 admin.get_stats。
func (s *Server) handleAdminGetStats(w http.ResponseWriter, r *http.Request) {
	st := s.hivemind.Stats()
	writeJSON(w, http.StatusOK, struct {
		BlockHash     string `json:"block_hash"`
		BlockHeight   int64  `json:"block_height"`
		Swarms        int    `json:"swarms"`
		SNodes        int    `json:"snodes"`
		Connections   int    `json:"connections"`
		Accounts      int    `json:"accounts"`
		Subscriptions int    `json:"subscriptions"`
		Notifications int64  `json:"notifications"`
		Uptime        int64  `json:"uptime"`
	}{
		BlockHash:     st.BlockHash,
		BlockHeight:   st.BlockHeight,
		Swarms:        st.Swarms,
		SNodes:        st.SNodes,
		Connections:   st.Connections,
		Accounts:      st.Accounts,
		Subscriptions: st.Subscriptions,
		Notifications: st.Notifications,
		Uptime:        st.UptimeSeconds,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code types.ResultCode, format string, args ...any) {
	writeJSON(w, http.StatusOK, errorResponse{
		Error:   code,
		Message: sprintfErr(format, args...),
	})
}

func sprintfErr(format string, args ...any) string {
	return types.NewRequestError(types.Error, format, args...).Message
}

// waitNotifiersReady 是面向客户端端点的中间件：在"notifiers ready"门控关闭前
// （spec.md §4.6）阻塞请求处理。
func (s *Server) waitNotifiersReady(ctx context.Context) {
	s.hivemind.WaitNotifiersReady(ctx, s.startupWait)
}
