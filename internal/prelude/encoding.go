package prelude

import (
	"fmt"

	"github.com/cryguy/jsbridge/internal/core"
)

// encodingJS adds atob/btoa and a UTF-8 TextEncoder/TextDecoder to the
// global scope when the engine does not provide them.
const encodingJS = `
(function() {
	var ALPHA = 'ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/';
	var IDX = {};
	for (var i = 0; i < ALPHA.length; i++) IDX[ALPHA.charAt(i)] = i;

	if (typeof globalThis.btoa !== 'function') {
		globalThis.btoa = function(data) {
			if (arguments.length < 1) throw new TypeError('btoa requires 1 argument');
			var s = String(data);
			var out = '';
			for (var i = 0; i < s.length; i += 3) {
				var a = s.charCodeAt(i), b = s.charCodeAt(i + 1), c = s.charCodeAt(i + 2);
				if (a > 255 || b > 255 || c > 255) throw new Error('btoa: character outside of the Latin1 range');
				var n = (a << 16) | ((b || 0) << 8) | (c || 0);
				out += ALPHA.charAt(n >> 18 & 63) + ALPHA.charAt(n >> 12 & 63) +
					(i + 1 < s.length ? ALPHA.charAt(n >> 6 & 63) : '=') +
					(i + 2 < s.length ? ALPHA.charAt(n & 63) : '=');
			}
			return out;
		};
	}

	if (typeof globalThis.atob !== 'function') {
		globalThis.atob = function(data) {
			if (arguments.length < 1) throw new TypeError('atob requires 1 argument');
			var s = String(data).replace(/[\t\n\f\r ]/g, '');
			if (s.length % 4 === 0) s = s.replace(/==?$/, '');
			if (s.length % 4 === 1 || /[^A-Za-z0-9+\/]/.test(s)) throw new Error('atob: invalid base64 string');
			var out = '';
			for (var i = 0; i < s.length; i += 4) {
				var n = (IDX[s.charAt(i)] << 18) | (IDX[s.charAt(i + 1)] << 12) |
					((IDX[s.charAt(i + 2)] || 0) << 6) | (IDX[s.charAt(i + 3)] || 0);
				out += String.fromCharCode(n >> 16 & 255);
				if (i + 2 < s.length) out += String.fromCharCode(n >> 8 & 255);
				if (i + 3 < s.length) out += String.fromCharCode(n & 255);
			}
			return out;
		};
	}

	if (typeof globalThis.TextEncoder !== 'function') {
		globalThis.TextEncoder = function TextEncoder() {};
		TextEncoder.prototype.encoding = 'utf-8';
		TextEncoder.prototype.encode = function(input) {
			var s = input === undefined ? '' : String(input);
			var bytes = [];
			for (var i = 0; i < s.length; i++) {
				var cp = s.codePointAt(i);
				if (cp >= 0xd800 && cp <= 0xdfff) cp = 0xfffd;
				if (cp > 0xffff) i++;
				if (cp < 0x80) {
					bytes.push(cp);
				} else if (cp < 0x800) {
					bytes.push(0xc0 | cp >> 6, 0x80 | cp & 63);
				} else if (cp < 0x10000) {
					bytes.push(0xe0 | cp >> 12, 0x80 | cp >> 6 & 63, 0x80 | cp & 63);
				} else {
					bytes.push(0xf0 | cp >> 18, 0x80 | cp >> 12 & 63, 0x80 | cp >> 6 & 63, 0x80 | cp & 63);
				}
			}
			return new Uint8Array(bytes);
		};
	}

	if (typeof globalThis.TextDecoder !== 'function') {
		globalThis.TextDecoder = function TextDecoder(label) {
			var l = label === undefined ? 'utf-8' : String(label).toLowerCase();
			if (l !== 'utf-8' && l !== 'utf8') throw new RangeError('TextDecoder: unsupported encoding ' + label);
		};
		TextDecoder.prototype.encoding = 'utf-8';
		TextDecoder.prototype.decode = function(input) {
			if (input === undefined) return '';
			var b = input instanceof ArrayBuffer ? new Uint8Array(input) :
				new Uint8Array(input.buffer, input.byteOffset, input.byteLength);
			var out = '';
			for (var i = 0; i < b.length;) {
				var c = b[i], cp = 0xfffd, need = 0;
				if (c < 0x80) { cp = c; }
				else if (c >= 0xc2 && c < 0xe0) { need = 1; cp = c & 31; }
				else if (c >= 0xe0 && c < 0xf0) { need = 2; cp = c & 15; }
				else if (c >= 0xf0 && c < 0xf5) { need = 3; cp = c & 7; }
				i++;
				for (var k = 0; k < need; k++, i++) {
					if (i >= b.length || (b[i] & 0xc0) !== 0x80) { cp = 0xfffd; break; }
					cp = cp << 6 | b[i] & 63;
				}
				out += String.fromCodePoint(cp);
			}
			return out;
		};
	}
})();
`

// installEncoding evaluates encodingJS.
func installEncoding(rt core.JSRuntime) error {
	if err := rt.Eval(encodingJS); err != nil {
		return fmt.Errorf("evaluating encoding helpers: %w", err)
	}
	return nil
}
