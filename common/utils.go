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

package common

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// StringOrNil returns the given string or nil when empty
func StringOrNil(str string) *string {
	if str == "" {
		return nil
	}
	return &str
}

// RandomBytes generates a cryptographically random byte array; a short read is an error
func RandomBytes(length int) ([]byte, error) {
	b := make([]byte, length)
	_, err := io.ReadFull(rand.Reader, b)
	if err != nil {
		return nil, fmt.Errorf("error generating random bytes; %s", err.Error())
	}
	return b, nil
}

// DecodeHex decodes a hex string with an optional 0x prefix into exactly size bytes
func DecodeHex(str string, size int) ([]byte, error) {
	clean := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(str), "0x"), "0X")
	if len(clean)%2 != 0 {
		return nil, fmt.Errorf("%w: odd length hex string", ErrMalformedHex)
	}

	buf, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedHex, err.Error())
	}

	if len(buf) != size {
		return nil, fmt.Errorf("%w: expected %d bytes; got %d", ErrInvalidLength, size, len(buf))
	}

	return buf, nil
}
