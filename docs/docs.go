// Package docs Lines Police CAD Dispatch API.
//
// Documentation of the Lines Police CAD dispatch board: calls for service,
// unit assignment, the live map and the realtime call stream.
//
//     Schemes: https
//     BasePath: /
//     Version: 1.0.0
//     Host: https://police-cad-dispatch.herokuapp.com
//
//     Consumes:
//     - application/json
//
//     Produces:
//     - application/json
//
//     Security:
//     - basic
//     - bearer
//
//    SecurityDefinitions:
//    basic:
//      type: basic
//    bearer:
//      type: apiKey
//      name: Authorization
//      in: header
//
// swagger:meta
package docs

import (
	"time"

	"github.com/linesmerrill/police-cad-dispatch/models"
)

// swagger:route GET /health health healthEndpointID
// Lists the healthchex of the web service api.
// responses:
//   200: healthResponse

// Shows the current health of the api. true means it is alive, false means it is not.
// swagger:response healthResponse
type healthResponseWrapper struct {
	// in:body
	Body models.HealthCheckResponse
}

// swagger:route POST /api/v1/auth/token auth createToken
// Exchanges basic auth credentials for a bearer token.
// responses:
//   200: tokenResponse
//   401: errorResponse

// A bearer token valid for 24 hours and the id of its user
// swagger:response tokenResponse
type tokenResponseWrapper struct {
	// in:body
	Body struct {
		Token string `json:"token"`
		ID    string `json:"_id"`
	}
}

// swagger:parameters listCalls createCall callByID updateCall deleteCall changeStatus assignUnit unassignUnit uploadImage callMap streamTicket
type agencyParam struct {
	// in:path
	// required: true
	AgencyID string `json:"agency_id"`
}

// swagger:parameters callByID updateCall deleteCall changeStatus assignUnit unassignUnit uploadImage
type callParam struct {
	// in:path
	// required: true
	CallID string `json:"call_id"`
}

// swagger:parameters assignUnit unassignUnit
type unitParam struct {
	// in:path
	// required: true
	UnitID string `json:"unit_id"`
}

// swagger:route GET /api/v1/agency/{agency_id}/calls calls listCalls
// Lists the calls of an agency, highest priority and oldest first.
// responses:
//   200: callsResponse
//   400: errorResponse
//   403: errorResponse

// swagger:parameters listCalls
type listCallsParams struct {
	// comma separated call types
	// in:query
	CallType string `json:"callType"`
	// comma separated priorities
	// in:query
	Priority string `json:"priority"`
	// comma separated statuses
	// in:query
	Status string `json:"status"`
	// case insensitive text matched against title, description and address
	// in:query
	Q string `json:"q"`
}

// swagger:route POST /api/v1/agency/{agency_id}/calls calls createCall
// Opens a new call in pending status.
// responses:
//   201: callResponse
//   400: errorResponse
//   403: errorResponse

// swagger:parameters createCall
type createCallParams struct {
	// in:body
	Body models.CallDraft
}

// swagger:route GET /api/v1/agency/{agency_id}/calls/{call_id} calls callByID
// Gets a single call.
// responses:
//   200: callResponse
//   404: errorResponse

// swagger:route PATCH /api/v1/agency/{agency_id}/calls/{call_id} calls updateCall
// Applies a partial update to a call.
// responses:
//   200: callResponse
//   400: errorResponse
//   409: errorResponse

// swagger:parameters updateCall
type updateCallParams struct {
	// in:body
	Body models.CallPatch
}

// swagger:route DELETE /api/v1/agency/{agency_id}/calls/{call_id} calls deleteCall
// Removes a call from the board.
// responses:
//   200: deletedResponse
//   404: errorResponse

// swagger:route PUT /api/v1/agency/{agency_id}/calls/{call_id}/status calls changeStatus
// Moves a call through its lifecycle.
// responses:
//   200: callResponse
//   409: errorResponse

// swagger:parameters changeStatus
type changeStatusParams struct {
	// in:body
	Body struct {
		Status models.Status `json:"status"`
	}
}

// swagger:route PUT /api/v1/agency/{agency_id}/calls/{call_id}/units/{unit_id} units assignUnit
// Assigns a unit to a call. Assigning twice is a no-op.
// responses:
//   200: callResponse
//   409: errorResponse

// swagger:route DELETE /api/v1/agency/{agency_id}/calls/{call_id}/units/{unit_id} units unassignUnit
// Clears a unit from a call.
// responses:
//   200: callResponse
//   409: errorResponse

// swagger:route POST /api/v1/agency/{agency_id}/calls/{call_id}/image calls uploadImage
// Uploads a multipart "image" and attaches it to the call.
// responses:
//   200: callResponse
//   502: errorResponse
//   503: errorResponse

// swagger:route GET /api/v1/agency/{agency_id}/map map callMap
// Lists the active calls inside a bounding box.
// responses:
//   200: callsResponse
//   400: errorResponse

// swagger:parameters callMap
type mapParams struct {
	// in:query
	MinLat float64 `json:"minLat"`
	// in:query
	MinLng float64 `json:"minLng"`
	// in:query
	MaxLat float64 `json:"maxLat"`
	// in:query
	MaxLng float64 `json:"maxLng"`
}

// swagger:route POST /api/v1/agency/{agency_id}/stream-ticket stream streamTicket
// Issues a short lived ticket for opening the websocket stream of an agency.
// responses:
//   201: ticketResponse
//   403: errorResponse

// A signed stream ticket
// swagger:response ticketResponse
type ticketResponseWrapper struct {
	// in:body
	Body struct {
		Ticket    string    `json:"ticket"`
		ExpiresAt time.Time `json:"expiresAt"`
	}
}

// A single call
// swagger:response callResponse
type callResponseWrapper struct {
	// in:body
	Body models.Call
}

// A list of calls
// swagger:response callsResponse
type callsResponseWrapper struct {
	// in:body
	Body []models.Call
}

// swagger:response deletedResponse
type deletedResponseWrapper struct {
	// in:body
	Body struct {
		Deleted string `json:"deleted"`
	}
}

// swagger:response errorResponse
type errorResponseWrapper struct {
	// in:body
	Body models.ErrorMessageResponse
}
