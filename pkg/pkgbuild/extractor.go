package pkgbuild

// extractorScript is the bash extractor the parser hands to its
// ScriptRunner for each PKGBUILD path. It sources the
// PKGBUILD's variables in a subshell per path and prints the
// [PKGBUILD]-delimited key:value record stream the parser expects.
//
// The teacher builds specfiles through text/template rendering in the
// opposite direction (pkg/pkgbuild.CreateSpec); this is the read-side
// counterpart, generated once here rather than per-invocation since the
// script is parameterized purely by argv (the PKGBUILD paths).
const extractorScript = `#!/usr/bin/env bash
set -u

for path in "$@"; do
  (
    cd "$(dirname "$path")" || exit 1
    source "$path"

    echo "[PKGBUILD]"
    echo "base:${pkgbase:-${pkgname}}"

    if declare -p pkgname >/dev/null 2>&1 && [[ "$(declare -p pkgname)" == "declare -a"* ]]; then
      for n in "${pkgname[@]}"; do
        echo "name:$n"
      done
    else
      echo "name:${pkgname}"
    fi

    for d in "${depends[@]:-}"; do
      [[ -n "$d" ]] && echo "dep:$d"
    done

    for d in "${makedepends[@]:-}"; do
      [[ -n "$d" ]] && echo "makedep:$d"
    done

    for p in "${provides[@]:-}"; do
      [[ -n "$p" ]] && echo "provide:$p"
    done

    for s in "${source[@]:-}"; do
      [[ -n "$s" ]] && echo "source:$s"
    done

    for c in "${cksums[@]:-}"; do
      [[ -n "$c" ]] && echo "ck:$c"
    done

    for c in "${md5sums[@]:-}"; do
      [[ -n "$c" ]] && echo "md5:$c"
    done

    for c in "${sha1sums[@]:-}"; do
      [[ -n "$c" ]] && echo "sha1:$c"
    done

    for c in "${sha224sums[@]:-}"; do
      [[ -n "$c" ]] && echo "sha224:$c"
    done

    for c in "${sha256sums[@]:-}"; do
      [[ -n "$c" ]] && echo "sha256:$c"
    done

    for c in "${sha384sums[@]:-}"; do
      [[ -n "$c" ]] && echo "sha384:$c"
    done

    for c in "${sha512sums[@]:-}"; do
      [[ -n "$c" ]] && echo "sha512:$c"
    done

    for c in "${b2sums[@]:-}"; do
      [[ -n "$c" ]] && echo "b2:$c"
    done

    if declare -f pkgver >/dev/null 2>&1; then
      echo "pkgver_func:y"
    else
      echo "pkgver_func:n"
    fi

    echo
  )
done
`
