package utils

import (
	"fmt"
	"log"
	"os"
	"strings"
)

const googleMapsBaseURL = "https://www.google.com/maps?q="

func FileExist(filePath string) bool {
	var err error

	if _, err = os.Stat(filePath); os.IsNotExist(err) {
		return false
	}

	if err != nil {
		log.Panic(err)
	}

	return true
}

func CreateDirIfNotExist(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		err := os.MkdirAll(dir, 0755)
		if err != nil {
			return err
		}
	}

	return nil
}

// MapLink returns a google maps link that drops a pin at lat,lng
func MapLink(lat, lng float64) string {
	return fmt.Sprintf("%s%.6f,%.6f", googleMapsBaseURL, lat, lng)
}

// FullName joins the non-empty name parts with a single space
func FullName(parts ...string) string {
	names := []string{}
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			names = append(names, trimmed)
		}
	}
	return strings.Join(names, " ")
}
