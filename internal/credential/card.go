package credential

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/webp"
)

const (
	cardWidth    = 600
	cardHeight   = 400
	headerHeight = 50
	photoSize    = 100
)

var (
	headerColor      = color.RGBA{R: 0x1f, G: 0x3a, B: 0x5f, A: 0xff}
	placeholderColor = color.RGBA{R: 0xdd, G: 0xdd, B: 0xdd, A: 0xff}
)

// Card is the data printed on a membership card.
type Card struct {
	Org        string
	MemberID   string
	Name       string
	FatherName string
	Age        string
	Shift      string
	Phone      string
	Paid       string
	IssuedOn   string
}

func (c Card) lines() []string {
	return []string{
		"Name: " + c.Name,
		"Father's Name: " + c.FatherName,
		"Age: " + c.Age,
		"Shift: " + c.Shift + " Hours",
		"Phone: " + c.Phone,
		"Paid: " + c.Paid,
		"Member ID: " + c.MemberID + "   Issued: " + c.IssuedOn,
	}
}

// Render draws the card as a PNG. photo may be nil, in which case a grey
// placeholder takes its place.
func Render(c Card, photo []byte) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, cardWidth, cardHeight))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(0, 0, cardWidth, headerHeight), &image.Uniform{C: headerColor}, image.Point{}, draw.Src)

	d := &font.Drawer{Dst: img, Src: image.White, Face: basicfont.Face7x13}
	d.Dot = fixed.P(20, 30)
	d.DrawString(c.Org + " ID Card")

	d.Src = image.Black
	for i, line := range c.lines() {
		d.Dot = fixed.P(20, headerHeight+40+i*40)
		d.DrawString(line)
	}

	photoRect := image.Rect(cardWidth-photoSize-30, headerHeight+20, cardWidth-30, headerHeight+20+photoSize)
	if len(photo) > 0 {
		src, _, err := image.Decode(bytes.NewReader(photo))
		if err != nil {
			return nil, fmt.Errorf("decode photo: %w", err)
		}
		draw.CatmullRom.Scale(img, photoRect, src, src.Bounds(), draw.Over, nil)
	} else {
		draw.Draw(img, photoRect, &image.Uniform{C: placeholderColor}, image.Point{}, draw.Src)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode card: %w", err)
	}
	return buf.Bytes(), nil
}
