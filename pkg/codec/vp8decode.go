package codec

/*
#cgo pkg-config: vpx
#include <vpx/vpx_decoder.h>
#include <vpx/vp8dx.h>
*/
import "C"

import (
	"fmt"
	"image"
	"sync"
	"unsafe"
)

// VP8Decoder decodes VP8 bitstream frames back to I420 images through a
// direct cgo binding to libvpx's decoder API (vpx_codec_decode,
// vpx_codec_get_frame), mirroring original_source's VP8DecoderImpl.cpp.
//
// pion/mediadevices' vpx package (used by VP8Encoder above) only binds
// libvpx's encoder side (vpx_codec_enc_*): it exists to feed locally
// captured video into a WebRTC PeerConnection, whose remote decode side
// is the browser or pion's own media engine, never mediadevices itself.
// This protocol decodes VP8 locally rather than handing it to a
// browser, so the renderer session needs its own decode path; this
// cgo binding is it, built the same way gopkg.in/hraban/opus.v2 wraps
// libopus.
//
// Not safe for concurrent use.
type VP8Decoder struct {
	mu     sync.Mutex
	ctx    C.vpx_codec_ctx_t
	closed bool
}

// NewVP8Decoder creates a decoder for the given resolution, enabling the
// same postprocessing and error-concealment flags
// (VPX_CODEC_USE_POSTPROC | VPX_CODEC_USE_ERROR_CONCEALMENT) and the
// resolution-tiered thread count VP8DecoderImpl::Start uses.
func NewVP8Decoder(width, height int) (*VP8Decoder, error) {
	d := &VP8Decoder{}

	var cfg C.vpx_codec_dec_cfg_t
	cfg.threads = C.uint(vp8ThreadsFor(height))
	cfg.w = C.uint(width)
	cfg.h = C.uint(height)

	flags := C.vpx_codec_flags_t(C.VPX_CODEC_USE_POSTPROC | C.VPX_CODEC_USE_ERROR_CONCEALMENT)

	if C.vpx_codec_dec_init(&d.ctx, C.vpx_codec_vp8_dx(), &cfg, flags) != C.VPX_CODEC_OK {
		return nil, fmt.Errorf("codec: vp8 decoder init: %s", C.GoString(C.vpx_codec_error(&d.ctx)))
	}
	return d, nil
}

// Decode decompresses one VP8 bitstream frame (the reassembled frame
// payload, not an RTP fragment) into an I420 image. A frame that
// leaves libvpx with nothing ready to emit yet returns (nil, nil)
// rather than an error, matching the decode-then-drain-iterator shape
// of vpx_codec_get_frame, which may legitimately produce no image on a
// given call (e.g. right after error concealment patches a loss).
func (d *VP8Decoder) Decode(frame []byte) (*image.YCbCr, error) {
	if len(frame) == 0 {
		return nil, fmt.Errorf("codec: vp8 decode: empty frame")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, fmt.Errorf("codec: vp8 decode: decoder closed")
	}

	data := (*C.uint8_t)(unsafe.Pointer(&frame[0]))
	if C.vpx_codec_decode(&d.ctx, data, C.uint(len(frame)), nil, 0) != C.VPX_CODEC_OK {
		return nil, fmt.Errorf("codec: vp8 decode: %s", C.GoString(C.vpx_codec_error(&d.ctx)))
	}

	var iter C.vpx_codec_iter_t
	img := C.vpx_codec_get_frame(&d.ctx, &iter)
	if img == nil {
		return nil, nil
	}

	return vpxImageToYCbCr(img), nil
}

// Close releases the libvpx decoder context.
func (d *VP8Decoder) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	if C.vpx_codec_destroy(&d.ctx) != C.VPX_CODEC_OK {
		return fmt.Errorf("codec: vp8 decoder destroy: %s", C.GoString(C.vpx_codec_error(&d.ctx)))
	}
	return nil
}

// vpxImageToYCbCr copies a decoded vpx_image_t's I420 planes into a
// standard library image.YCbCr, respecting libvpx's per-plane stride
// (which may be wider than the image for alignment) the way
// VP8DecoderImpl::DecodeI420's row-by-row memcpy does.
func vpxImageToYCbCr(img *C.vpx_image_t) *image.YCbCr {
	w := int(img.d_w)
	h := int(img.d_h)
	cw := (w + 1) / 2
	ch := (h + 1) / 2

	out := image.NewYCbCr(image.Rect(0, 0, w, h), image.YCbCrSubsampleRatio420)

	copyPlane(out.Y, out.YStride, unsafe.Pointer(img.planes[0]), int(img.stride[0]), w, h)
	copyPlane(out.Cb, out.CStride, unsafe.Pointer(img.planes[1]), int(img.stride[1]), cw, ch)
	copyPlane(out.Cr, out.CStride, unsafe.Pointer(img.planes[2]), int(img.stride[2]), cw, ch)

	return out
}

// copyPlane copies one plane row by row, since libvpx pads stride to an
// alignment boundary that rarely equals width.
func copyPlane(dst []byte, dstStride int, src unsafe.Pointer, srcStride, width, height int) {
	for y := 0; y < height; y++ {
		row := unsafe.Slice((*byte)(unsafe.Pointer(uintptr(src)+uintptr(y*srcStride))), width)
		copy(dst[y*dstStride:y*dstStride+width], row)
	}
}
