/*
 * Copyright 2017-2022 Provide Technologies Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package relayer

import (
	"encoding/json"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/provideplatform/mixer/common"
	provide "github.com/provideplatform/provide-go/common"
)

const statusTooEarly = 425

// InstallAPI registers the relayer API handlers with gin
func (r *Relayer) InstallAPI(e *gin.Engine) {
	e.POST("/withdraw", r.withdrawHandler)
	e.GET("/health", r.healthHandler)
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (r *Relayer) withdrawHandler(c *gin.Context) {
	buf, err := c.GetRawData()
	if err != nil {
		renderError(errors.Wrap(common.ErrMalformedRequest, err.Error()), c)
		return
	}

	req := &WithdrawRequest{}
	err = json.Unmarshal(buf, req)
	if err != nil {
		renderError(errors.Wrap(common.ErrMalformedRequest, err.Error()), c)
		return
	}

	receipt, err := r.Withdraw(c.Request.Context(), req)
	if err != nil {
		renderError(err, c)
		return
	}

	provide.Render(&WithdrawResponse{Signature: receipt.Signature}, 200, c)
}

func (r *Relayer) healthHandler(c *gin.Context) {
	health, err := r.Health(c.Request.Context())
	if err != nil {
		renderError(err, c)
		return
	}

	provide.Render(health, 200, c)
}

func renderError(err error, c *gin.Context) {
	resp := errorResponse(err)
	status := statusFor(resp.Code)

	if status >= 500 {
		common.Log.Warningf("relay request failed; %s", err.Error())
	}
	if resp.RetryAfter != nil {
		c.Header("Retry-After", fmt.Sprintf("%d", *resp.RetryAfter))
	}

	provide.Render(resp, status, c)
}

// statusFor maps a wire code to its HTTP status
func statusFor(code string) int {
	switch code {
	case common.ErrMalformedHex.Code,
		common.ErrInvalidLength.Code,
		common.ErrMalformedRecipient.Code,
		common.ErrMalformedRequest.Code:
		return 400
	case common.ErrCommitmentMismatch.Code:
		return 422
	case common.ErrUnknownCommitment.Code:
		return 404
	case common.ErrAlreadyWithdrawn.Code,
		common.ErrNullifierReused.Code,
		common.ErrCommitmentCollision.Code:
		return 409
	case common.ErrTooEarly.Code:
		return statusTooEarly
	case common.ErrRelayerUnavailable.Code,
		common.ErrLedgerUnavailable.Code:
		return 503
	}
	return 500
}
