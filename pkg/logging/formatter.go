/*
Author: KleaSCM
Email: KleaSCM@gmail.com
File: formatter.go
Description: Custom log formatters. CustomFormatter renders compact coloured lines with
sorted fields; InferenceFormatter adds an event prefix for inference messages.
*/

package logging

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// CustomFormatter renders one readable line per entry
type CustomFormatter struct {
	Timestamp bool
	Caller    bool
	Colors    bool
}

// Format formats a log entry
func (f *CustomFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	return f.format(entry, ""), nil
}

func (f *CustomFormatter) format(entry *logrus.Entry, prefix string) []byte {
	var output strings.Builder

	if f.Timestamp {
		f.write(&output, 36, entry.Time.Format("2006-01-02 15:04:05.000"))
		output.WriteString(" ")
	}

	f.write(&output, f.getLevelColor(entry.Level), strings.ToUpper(entry.Level.String()))
	output.WriteString(" ")

	if prefix != "" {
		f.write(&output, 35, "["+prefix+"]")
		output.WriteString(" ")
	}

	if f.Caller && entry.HasCaller() {
		f.write(&output, 33, fmt.Sprintf("[%s:%d]", entry.Caller.File, entry.Caller.Line))
		output.WriteString(" ")
	}

	output.WriteString(entry.Message)
	if len(entry.Data) > 0 {
		output.WriteString(" ")
		output.WriteString(f.formatFields(entry.Data))
	}
	output.WriteString("\n")
	return []byte(output.String())
}

func (f *CustomFormatter) write(b *strings.Builder, color int, s string) {
	if f.Colors {
		fmt.Fprintf(b, "\033[%dm%s\033[0m", color, s)
		return
	}
	b.WriteString(s)
}

// getLevelColor returns the ANSI color code for a log level
func (f *CustomFormatter) getLevelColor(level logrus.Level) int {
	switch level {
	case logrus.InfoLevel:
		return 32 // Green
	case logrus.WarnLevel:
		return 33 // Yellow
	case logrus.ErrorLevel:
		return 31 // Red
	case logrus.FatalLevel, logrus.PanicLevel:
		return 35 // Magenta
	default:
		return 37 // White
	}
}

// formatFields renders fields as key=value pairs in key order
func (f *CustomFormatter) formatFields(fields logrus.Fields) string {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, key := range keys {
		value := f.formatValue(fields[key])
		if f.Colors {
			parts[i] = fmt.Sprintf("\033[34m%s\033[0m=\033[32m%s\033[0m", key, value)
		} else {
			parts[i] = fmt.Sprintf("%s=%s", key, value)
		}
	}
	return strings.Join(parts, " ")
}

// formatValue formats a field value
func (f *CustomFormatter) formatValue(value interface{}) string {
	switch v := value.(type) {
	case time.Duration:
		return v.String()
	case time.Time:
		return v.Format("15:04:05.000")
	case float64:
		return fmt.Sprintf("%.1f", v)
	case string:
		if len(v) > 80 {
			return v[:80] + "..."
		}
		return v
	case []byte:
		if len(v) > 20 {
			return fmt.Sprintf("[%d bytes]", len(v))
		}
		return fmt.Sprintf("%x", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// InferenceFormatter prefixes inference events with a short tag
type InferenceFormatter struct {
	CustomFormatter
}

// Format formats an entry with its event prefix
func (f *InferenceFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	return f.format(entry, eventPrefix(entry.Message)), nil
}

// eventPrefix maps inference messages to tags
func eventPrefix(message string) string {
	switch {
	case strings.HasPrefix(message, "Candidate degraded"):
		return "DEGRADED"
	case strings.HasPrefix(message, "Candidate"):
		return "CANDIDATE"
	case strings.HasPrefix(message, "Layer"):
		return "LAYER"
	case strings.HasPrefix(message, "Inference"), strings.HasPrefix(message, "Starting inference"):
		return "RUN"
	case strings.Contains(message, "baseline"):
		return "STOP"
	default:
		return ""
	}
}
