// Copyright 2025 Matthew Gall <me@matthewgall.dev>
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
)

const npyMagic = "\x93NUMPY"

var npyShape = regexp.MustCompile(`'shape':\s*\((\d+),\s*(\d+)?\)`)

// WriteNPY encodes a row-major float64 matrix as a version 1.0 .npy file
func WriteNPY(w io.Writer, matrix [][]float64, columns int) error {
	for r, row := range matrix {
		if len(row) != columns {
			return fmt.Errorf("row %d has %d values, want %d", r, len(row), columns)
		}
	}

	header := fmt.Sprintf("{'descr': '<f8', 'fortran_order': False, 'shape': (%d, %d), }", len(matrix), columns)
	// magic(6) + version(2) + length(2) + header + '\n' must be a multiple of 64
	prefix := len(npyMagic) + 4
	total := prefix + len(header) + 1
	if rem := total % 64; rem != 0 {
		header += strings.Repeat(" ", 64-rem)
	}
	header += "\n"

	var buf bytes.Buffer
	buf.WriteString(npyMagic)
	buf.Write([]byte{1, 0})
	if err := binary.Write(&buf, binary.LittleEndian, uint16(len(header))); err != nil {
		return err
	}
	buf.WriteString(header)
	if _, err := w.Write(buf.Bytes()); err != nil {
		return err
	}

	cell := make([]byte, 8)
	for _, row := range matrix {
		for _, v := range row {
			binary.LittleEndian.PutUint64(cell, math.Float64bits(v))
			if _, err := w.Write(cell); err != nil {
				return err
			}
		}
	}
	return nil
}

// ReadNPY decodes a little-endian float64 C-order 2-D .npy file
func ReadNPY(r io.Reader) ([][]float64, error) {
	magic := make([]byte, len(npyMagic)+2)
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, fmt.Errorf("reading npy magic: %w", err)
	}
	if string(magic[:len(npyMagic)]) != npyMagic {
		return nil, errors.New("not an npy file")
	}

	var headerLen int
	switch magic[len(npyMagic)] {
	case 1:
		var n uint16
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, err
		}
		headerLen = int(n)
	case 2, 3:
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, err
		}
		headerLen = int(n)
	default:
		return nil, fmt.Errorf("unsupported npy version %d.%d", magic[len(npyMagic)], magic[len(npyMagic)+1])
	}

	header := make([]byte, headerLen)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("reading npy header: %w", err)
	}
	h := string(header)
	if !strings.Contains(h, "'descr': '<f8'") {
		return nil, fmt.Errorf("unsupported dtype in header %q", strings.TrimSpace(h))
	}
	if strings.Contains(h, "'fortran_order': True") {
		return nil, errors.New("fortran-ordered arrays are not supported")
	}
	match := npyShape.FindStringSubmatch(h)
	if match == nil || match[2] == "" {
		return nil, fmt.Errorf("expected a 2-D shape in header %q", strings.TrimSpace(h))
	}
	rows, _ := strconv.Atoi(match[1])
	cols, _ := strconv.Atoi(match[2])

	matrix := make([][]float64, rows)
	cell := make([]byte, 8)
	for i := range matrix {
		row := make([]float64, cols)
		for j := range row {
			if _, err := io.ReadFull(r, cell); err != nil {
				return nil, fmt.Errorf("reading npy data at (%d, %d): %w", i, j, err)
			}
			row[j] = math.Float64frombits(binary.LittleEndian.Uint64(cell))
		}
		matrix[i] = row
	}
	return matrix, nil
}
