package core

import "encoding/xml"

// comicInfoPage is one entry in ComicInfo.xml's Pages sequence.
type comicInfoPage struct {
	XMLName xml.Name `xml:"Page"`
	Image   int      `xml:"Image,attr"`
	Type    string   `xml:"Type,attr,omitempty"`
}

// comicInfo is the ComicInfo.xml metadata document written into every CBZ,
// per the ComicRack-derived schema most comic readers understand.
type comicInfo struct {
	XMLName xml.Name        `xml:"ComicInfo"`
	Title   string          `xml:"Title,omitempty"`
	Writer  string          `xml:"Writer,omitempty"`
	Year    string          `xml:"Year,omitempty"`
	Pages   []comicInfoPage `xml:"Pages>Page"`
}

const (
	pageTypeFrontCover = "FrontCover"
	pageTypeStory      = "Story"
	pageTypeBackCover  = "BackCover"
)

// buildComicInfo assembles the ComicInfo document for a doc with pageCount
// images: index 0 is FrontCover, the last index (if distinct) is
// BackCover, everything between is Story. A single-page doc gets only
// FrontCover.
func buildComicInfo(title, writer, date string, pageCount int) comicInfo {
	info := comicInfo{Title: title, Writer: writer, Year: date}
	if pageCount <= 0 {
		return info
	}

	pages := make([]comicInfoPage, pageCount)
	for i := range pages {
		pages[i] = comicInfoPage{Image: i, Type: pageTypeStory}
	}
	pages[0].Type = pageTypeFrontCover
	if pageCount > 1 {
		pages[pageCount-1].Type = pageTypeBackCover
	}
	info.Pages = pages
	return info
}

const xmlDeclaration = `<?xml version="1.0" encoding="utf-8"?>` + "\n"

// marshalComicInfo serializes info with the XML declaration ComicInfo
// readers expect.
func marshalComicInfo(info comicInfo) ([]byte, error) {
	body, err := xml.MarshalIndent(info, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xmlDeclaration), body...), nil
}
