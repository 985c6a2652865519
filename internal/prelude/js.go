package prelude

// preludeJS installs globalThis.__jsb, the script-side half of the bridge:
// the tagged wire encoding, the reference slot table, host function
// trampolines, the call state used for promise awaiting, timers and
// console. It expects __jsb_console, __jsb_timer_register and
// __jsb_timer_clear to be registered and removes them from globalThis.
const preludeJS = `
(function() {
	var hostConsole = globalThis.__jsb_console;
	var timerRegister = globalThis.__jsb_timer_register;
	var timerClear = globalThis.__jsb_timer_clear;
	delete globalThis.__jsb_console;
	delete globalThis.__jsb_timer_register;
	delete globalThis.__jsb_timer_clear;

	var refs = new Map();
	var encodeErrors = new WeakSet();
	var nextSlot = 0;
	var state = null;
	var timers = {};

	var B64 = 'ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/';
	var B64IDX = {};
	for (var k = 0; k < B64.length; k++) B64IDX[B64.charAt(k)] = k;

	function toBase64(bytes) {
		var parts = [];
		var i = 0;
		for (; i + 2 < bytes.length; i += 3) {
			var n = (bytes[i] << 16) | (bytes[i + 1] << 8) | bytes[i + 2];
			parts.push(B64.charAt(n >> 18 & 63) + B64.charAt(n >> 12 & 63) + B64.charAt(n >> 6 & 63) + B64.charAt(n & 63));
		}
		var rest = bytes.length - i;
		if (rest === 1) {
			var n1 = bytes[i] << 16;
			parts.push(B64.charAt(n1 >> 18 & 63) + B64.charAt(n1 >> 12 & 63) + '==');
		} else if (rest === 2) {
			var n2 = (bytes[i] << 16) | (bytes[i + 1] << 8);
			parts.push(B64.charAt(n2 >> 18 & 63) + B64.charAt(n2 >> 12 & 63) + B64.charAt(n2 >> 6 & 63) + '=');
		}
		return parts.join('');
	}

	function fromBase64(s) {
		var len = s.length;
		var pad = 0;
		if (len > 0 && s.charAt(len - 1) === '=') pad++;
		if (len > 1 && s.charAt(len - 2) === '=') pad++;
		var out = new Uint8Array(len / 4 * 3 - pad);
		var o = 0;
		for (var i = 0; i < len; i += 4) {
			var n = (B64IDX[s.charAt(i)] << 18) | (B64IDX[s.charAt(i + 1)] << 12) |
				((B64IDX[s.charAt(i + 2)] || 0) << 6) | (B64IDX[s.charAt(i + 3)] || 0);
			if (o < out.length) out[o++] = n >> 16 & 255;
			if (o < out.length) out[o++] = n >> 8 & 255;
			if (o < out.length) out[o++] = n & 255;
		}
		return out;
	}

	function typeName(v) {
		if (typeof v === 'function') return 'function';
		if (Array.isArray(v)) return 'array';
		if (v instanceof Promise) return 'promise';
		return typeof v;
	}

	function encodeNum(n) {
		if (n !== n) return 'NaN';
		if (n === Infinity) return 'Infinity';
		if (n === -Infinity) return '-Infinity';
		if (n === 0 && 1 / n < 0) return '-0';
		return n;
	}

	function safeString(v) {
		try { return String(v); } catch (e) { return '[unprintable]'; }
	}

	function errorInfo(e) {
		if (e instanceof Error) {
			return {
				name: safeString(e.name || 'Error'),
				message: safeString(e.message),
				stack: e.stack ? safeString(e.stack) : ''
			};
		}
		return { name: '', message: safeString(e), stack: '' };
	}

	// makeError rebuilds an Error from its wire form. A carried stack
	// replaces the one the engine records here.
	function makeError(info) {
		var e = new Error(info.message);
		if (info.name && info.name !== 'Error') e.name = info.name;
		if (info.stack) {
			Object.defineProperty(e, 'stack', { value: info.stack, writable: true, configurable: true });
		}
		if (info.kind) {
			Object.defineProperty(e, 'kind', { value: info.kind, writable: true, configurable: true });
		}
		return e;
	}

	// loneSurrogate returns the index of the first unpaired surrogate in
	// s, or -1 when s is well-formed UTF-16.
	function loneSurrogate(s) {
		if (typeof s.isWellFormed === 'function' && s.isWellFormed()) return -1;
		for (var i = 0; i < s.length; i++) {
			var c = s.charCodeAt(i);
			if (c >= 0xd800 && c <= 0xdbff) {
				var d = s.charCodeAt(i + 1);
				if (d >= 0xdc00 && d <= 0xdfff) {
					i++;
					continue;
				}
				return i;
			}
			if (c >= 0xdc00 && c <= 0xdfff) return i;
		}
		return -1;
	}

	function encodeString(s) {
		var at = loneSurrogate(s);
		if (at >= 0) {
			var e = new TypeError('string has an unpaired surrogate at index ' + at + ' and has no UTF-8 form; pass it as bytes');
			encodeErrors.add(e);
			throw e;
		}
		return { t: 'str', v: s };
	}

	function encode(v) {
		if (v === undefined || v === null) return { t: 'null' };
		switch (typeof v) {
		case 'boolean': return { t: 'bool', v: v };
		case 'number': return { t: 'num', v: encodeNum(v) };
		case 'string': return encodeString(v);
		}
		if (v instanceof ArrayBuffer) return { t: 'buf', v: toBase64(new Uint8Array(v)) };
		if (ArrayBuffer.isView(v)) return { t: 'buf', v: toBase64(new Uint8Array(v.buffer, v.byteOffset, v.byteLength)) };
		if (v instanceof Error) return { t: 'err', v: errorInfo(v) };
		var slot = ++nextSlot;
		refs.set(slot, v);
		return { t: 'ref', s: slot, type: typeName(v), arity: typeof v === 'function' ? v.length : 0 };
	}

	function decode(w) {
		switch (w.t) {
		case 'null': return null;
		case 'bool': return w.v;
		case 'num':
			if (typeof w.v === 'string') return w.v === '-0' ? -0 : Number(w.v);
			return w.v;
		case 'str': return w.v;
		case 'buf': return fromBase64(w.v);
		case 'err': return makeError(w.v);
		case 'ref':
			if (!refs.has(w.s)) throw new TypeError('reference ' + w.s + ' has been released');
			return refs.get(w.s);
		}
		throw new TypeError('unknown wire tag ' + w.t);
	}

	function take(name) {
		var v = globalThis[name];
		delete globalThis[name];
		return v;
	}

	function args() {
		var raw = take('__jsb_args');
		if (!raw) return [];
		return JSON.parse(raw).map(decode);
	}

	function begin(thunk) {
		var s = { pending: false, failed: false, ok: undefined, exc: undefined };
		state = s;
		var r;
		try {
			r = thunk();
		} catch (e) {
			s.failed = true;
			s.exc = e;
			return;
		}
		if (r instanceof Promise) {
			s.pending = true;
			r.then(function(v) {
				s.pending = false;
				s.ok = v;
			}, function(e) {
				s.pending = false;
				s.failed = true;
				s.exc = e;
			});
			return;
		}
		s.ok = r;
	}

	function settled() {
		return state === null || !state.pending;
	}

	function finish() {
		var s = state;
		state = null;
		if (s === null) {
			return JSON.stringify({ exc: { name: 'Error', message: 'no call in progress', stack: '' } });
		}
		if (s.failed) return JSON.stringify({ exc: errorInfo(s.exc) });
		try {
			return JSON.stringify({ ok: encode(s.ok) });
		} catch (e) {
			return JSON.stringify({ exc: errorInfo(e), mismatch: encodeErrors.has(e) });
		}
	}

	function evalSource() {
		var src = take('__jsb_src');
		return (0, eval)(src);
	}

	function completion() {
		return take('__jsb_completion');
	}

	function callRef(slot) {
		var f = refs.get(slot);
		if (typeof f !== 'function') throw new TypeError('reference ' + slot + ' is not a function');
		return f.apply(undefined, args());
	}

	function callGlobal() {
		var name = take('__jsb_name');
		var f = globalThis[name];
		if (typeof f !== 'function') throw new TypeError(name + ' is not a function');
		return f.apply(undefined, args());
	}

	function arityOf() {
		var f = globalThis[take('__jsb_name')];
		return typeof f === 'function' ? f.length : -1;
	}

	function release(slot) {
		refs.delete(slot);
	}

	function bindHost(rawName) {
		var name = take('__jsb_name');
		var raw = take(rawName);
		globalThis[name] = function() {
			var a = [];
			for (var i = 0; i < arguments.length; i++) a.push(encode(arguments[i]));
			var res = JSON.parse(raw(JSON.stringify(a)));
			if (res.exc) throw makeError(res.exc);
			return decode(res.ok);
		};
	}

	function report(e) {
		var info = errorInfo(e);
		hostConsole('error', 'Uncaught ' + (info.name ? info.name + ': ' : '') + info.message);
	}

	function fireTimer(id) {
		var entry = timers[id];
		if (!entry) return;
		if (!entry.interval) delete timers[id];
		try {
			entry.fn.apply(null, entry.args);
		} catch (e) {
			report(e);
		}
	}

	function schedule(fn, delay, extra, interval) {
		if (typeof fn !== 'function') return 0;
		var ms = Math.max(0, Math.floor(Number(delay) || 0));
		var id = timerRegister(ms, interval);
		timers[id] = { fn: fn, args: extra, interval: interval };
		return id;
	}

	globalThis.setTimeout = function(fn, delay) {
		return schedule(fn, delay, Array.prototype.slice.call(arguments, 2), false);
	};
	globalThis.setInterval = function(fn, interval) {
		return schedule(fn, interval, Array.prototype.slice.call(arguments, 2), true);
	};
	globalThis.clearTimeout = globalThis.clearInterval = function(id) {
		if (typeof id !== 'number' || !timers[id]) return;
		timerClear(id);
		delete timers[id];
	};
	globalThis.queueMicrotask = function(fn) {
		Promise.resolve().then(function() { fn(); });
	};

	function fmt(arg) {
		if (typeof arg === 'string') return arg;
		if (arg instanceof Error) return arg.stack ? arg.name + ': ' + arg.message + '\n' + arg.stack : arg.name + ': ' + arg.message;
		if (typeof arg === 'object' && arg !== null) {
			try {
				var s = JSON.stringify(arg);
				if (s !== undefined) return s;
			} catch (e) {}
		}
		return safeString(arg);
	}

	var con = {};
	['log', 'info', 'warn', 'error', 'debug', 'trace'].forEach(function(lvl) {
		con[lvl] = function() {
			var parts = [];
			for (var j = 0; j < arguments.length; j++) parts.push(fmt(arguments[j]));
			hostConsole(lvl, parts.join(' '));
		};
	});
	globalThis.console = con;

	Object.defineProperty(globalThis, '__jsb', {
		value: Object.freeze({
			encode: encode,
			decode: decode,
			begin: begin,
			settled: settled,
			finish: finish,
			evalSource: evalSource,
			completion: completion,
			callRef: callRef,
			callGlobal: callGlobal,
			arityOf: arityOf,
			release: release,
			bindHost: bindHost,
			fireTimer: fireTimer,
			refCount: function() { return refs.size; }
		}),
		writable: false,
		enumerable: false,
		configurable: false
	});
})();
`
