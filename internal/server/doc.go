// Package server implements the ECLIA gateway's HTTP API.
//
// It exposes session lifecycle management, the chat SSE stream, artifact
// retrieval, and approval decisions over a Chi router:
//
//   - Session Management: create/list/reset/delete sessions backed by the
//     session store
//   - Chat: POST /api/chat streams one turn through the turn orchestrator
//   - Artifacts: GET /api/artifacts serves files written during tool calls
//   - Approvals: POST /api/approvals/{id} resolves a pending tool approval
//
// Every endpoint is gated by an optional bearer-token middleware, and every
// handler that fails before it starts writing a response body maps its
// error to a status code through a single apperror.Kind table.
package server
